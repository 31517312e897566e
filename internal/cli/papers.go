package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"primate-rag/internal/domain"
)

var (
	papersJSON  bool
	papersStats bool
)

var papersCmd = &cobra.Command{
	Use:   "papers",
	Short: "List the papers in the collection",
	Args:  cobra.NoArgs,
	RunE:  runPapers,
}

var removeCmd = &cobra.Command{
	Use:   "remove [paper ids...]",
	Short: "Remove papers from the index",
	Long: `Drops every chunk of the given papers from the stored index. With
--prune, drops the papers no longer listed in the catalog instead.`,
	RunE: runRemove,
}

var removePrune bool

func init() {
	papersCmd.Flags().BoolVar(&papersJSON, "json", false, "output papers as JSON")
	papersCmd.Flags().BoolVar(&papersStats, "stats", false, "print collection statistics instead")
	removeCmd.Flags().BoolVar(&removePrune, "prune", false, "remove papers that left the catalog")
	rootCmd.AddCommand(papersCmd)
	rootCmd.AddCommand(removeCmd)
}

func runPapers(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if a != nil {
		defer a.Close()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if papersStats {
		fmt.Fprintln(out, a.pipeline.Stats().Context())
		return nil
	}
	papers := a.pipeline.Papers()
	if papersJSON {
		data, err := json.MarshalIndent(papers, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal papers: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if len(papers) == 0 {
		fmt.Fprintln(out, "No papers.")
		return nil
	}
	for _, p := range papers {
		line := fmt.Sprintf("%-10s %s", p.ID, domain.Citation(p.Title, p.Year))
		if p.Species != "" {
			line += " [" + p.Species + "]"
		}
		fmt.Fprintln(out, strings.TrimSpace(line))
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	if !removePrune && len(args) == 0 {
		return fmt.Errorf("%w: give paper ids or --prune", domain.ErrInvalidInput)
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if a != nil {
		defer a.Close()
	}
	if err != nil {
		return err
	}

	var n int
	if removePrune {
		n, err = a.pipeline.Prune(ctx)
	} else {
		n, err = a.pipeline.Remove(ctx, args...)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d chunks\n", n)
	return nil
}
