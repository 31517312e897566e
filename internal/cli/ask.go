package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
)

var (
	askStream bool
	askJSON   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed papers",
	Long: `Retrieves the paper excerpts most similar to the question and asks the
configured language model to answer from them, citing each paper used.
When the language model is unavailable the retrieved excerpts are printed
instead and the command fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print the answer as it is generated")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

type askOutput struct {
	Answer    string              `json:"answer"`
	Citations []answerer.Citation `json:"citations"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if a != nil {
		defer a.Close()
	}
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	var ans answerer.Answer
	if askStream && !askJSON {
		ans, err = a.pipeline.AskStream(ctx, question, nil,
			func([]answerer.Citation) error { return nil },
			func(token string) error {
				_, werr := io.WriteString(out, token)
				return werr
			})
		if err == nil {
			fmt.Fprintln(out)
		}
	} else {
		ans, err = a.pipeline.Ask(ctx, question, nil)
	}

	var upErr *answerer.UpstreamError
	if errors.As(err, &upErr) {
		fmt.Fprintln(out, "The language model is unavailable. Most relevant excerpts:")
		printExcerpts(out, upErr.Sources, true)
		return err
	}
	if err != nil {
		return err
	}

	if askJSON {
		data, err := json.MarshalIndent(askOutput{Answer: ans.Text, Citations: ans.Citations}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}
	if !askStream {
		fmt.Fprintln(out, ans.Text)
	}
	if len(ans.Citations) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for i, c := range ans.Citations {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, c)
		}
	}
	return nil
}

// printExcerpts lists results as "[N] Title (Year), section (score)".
func printExcerpts(out io.Writer, results []domain.SearchResult, withText bool) {
	for i, r := range results {
		fmt.Fprintf(out, "  [%d] %s, %s (%.3f)\n", i+1, domain.Citation(r.Chunk.Title, r.Chunk.Year), r.Chunk.Section, r.Score)
		if withText {
			fmt.Fprintf(out, "      %s\n", snippet(r.Chunk.Text, 300))
		}
	}
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
