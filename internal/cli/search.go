package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Find the most similar paper excerpts",
	Long: `Ranks indexed chunks by cosine similarity to the query embedding without
calling the language model. Queries that match nothing by embedding fall
back to word overlap.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 uses retriever.top_k)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if a != nil {
		defer a.Close()
	}
	if err != nil {
		return err
	}

	results, err := a.pipeline.Search(ctx, strings.Join(args, " "), searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	out := cmd.OutOrStdout()
	if searchJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results found.")
		return nil
	}
	fmt.Fprintln(out, "Results:")
	printExcerpts(out, results, true)
	return nil
}
