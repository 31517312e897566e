package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"primate-rag/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the configuration",
}

var configTOML bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := config.Marshal(cfg, configTOML)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Long: `Writes the built-in defaults to path (default ./config.yaml). A path
ending in .toml is written as TOML. Existing files are not overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(path, config.Default()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configTOML, "toml", false, "print as TOML")
	configCmd.AddCommand(configShowCmd, configInitCmd)
	rootCmd.AddCommand(configCmd)
}
