package cli

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"primate-rag/internal/tui"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Chat with the paper collection in the terminal",
	Long: `Launch the interactive terminal chat. Follow-up questions see the
previous turns of the conversation.

Controls:
  Enter      - Ask
  Up/Down    - Browse the sources of the last answer
  Ctrl+C     - Quit`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("tui needs an interactive terminal; use ask instead")
	}
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, true)
	if a != nil {
		defer a.Close()
	}
	if err != nil {
		return err
	}

	h := a.pipeline.Health()
	summary := fmt.Sprintf("%d papers, %d chunks, %s, answers by %s", h.Papers, h.Chunks, h.Model, a.pipeline.Generator().Name())
	p := tea.NewProgram(tui.New(a.pipeline, summary), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
