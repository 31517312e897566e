package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"primate-rag/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can call the
ask and search tools and read the papers resource.

By default the server communicates over stdio. Use --port to serve the
streamable HTTP transport instead.

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "primate-rag": {
        "command": "/path/to/primate-rag",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	ctx := cmd.Context()
	a, err := openServingApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := mcp.NewServer(a.pipeline)
	if err != nil {
		return err
	}
	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return srv.RunHTTP(ctx, addr)
	}
	return srv.Run(ctx)
}
