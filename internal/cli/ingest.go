package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"primate-rag/internal/domain"
	"primate-rag/internal/extract"
	"primate-rag/internal/logger"
)

var (
	ingestClean    bool
	ingestMinChars int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Index papers (PDF or text)",
	Long: `Extracts, segments and embeds the given papers (PDF with a text layer,
plain text or markdown) and adds them to the
stored index. A file's name without extension is its paper id; ids listed
in the catalog take their title, year and species from it. Re-ingesting a
paper replaces its chunks. Nothing is stored unless the whole run succeeds.

Shell globs are expanded, so quoting a pattern works too:
  primate-rag ingest 'papers/*.pdf'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestClean, "clean", true, "normalize whitespace and rejoin hyphenated line breaks")
	ingestCmd.Flags().IntVar(&ingestMinChars, "min-chars-per-page", 0, "reject texts with fewer characters per page (0 disables)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if a != nil {
		defer a.Close()
	}
	switch {
	case errors.Is(err, domain.ErrCorruptStore):
		logger.Warn("stored index is corrupt and will be replaced: %v", err)
	case errors.Is(err, domain.ErrVersionMismatch):
		logger.Warn("stored index was built with another embedder; only the papers given now will be kept: %v", err)
	case err != nil:
		return err
	}

	var opts []extract.Option
	if ingestClean {
		opts = append(opts, extract.WithCleaning())
	}
	if ingestMinChars > 0 {
		opts = append(opts, extract.WithMinCharsPerPage(ingestMinChars))
	}
	docs, err := a.pipeline.ReadDocuments(ctx, extract.New(opts...), args)
	if err != nil {
		return err
	}
	report, err := a.pipeline.Ingest(ctx, docs)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ingested %d papers into %d chunks (%d embedded, %d reused)\n",
		report.Documents, report.Chunks, report.Embedded, report.Reused)
	fmt.Fprintf(out, "Index holds %d chunks, snapshot %s (%s)\n", report.Total, report.Snapshot, report.Duration.Round(1e6))
	return nil
}
