// Package cli implements the primate-rag command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"primate-rag/internal/config"
	"primate-rag/internal/logger"
)

// version is set at build time.
var version = "dev"

var (
	cfgPath string
	verbose bool

	// cfg is loaded before every command runs.
	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "primate-rag",
	Short: "Question answering over computational primatology papers",
	Long: `primate-rag answers questions about machine learning research on
non-human primates from a local index of paper texts, citing the papers
each answer is drawn from.

Typical use:
  primate-rag ingest papers/*.txt
  primate-rag ask "Which models estimate macaque pose?"
  primate-rag serve`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger.SetVerbose(verbose)
		loaded, path, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Debug("config: %s", path)
		cfg = loaded
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("primate-rag version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./config.yaml or ~/.config/primate-rag/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.AppConfig, string, error) {
	if cfgPath == "" {
		return config.LoadDefault()
	}
	loaded, err := config.Load(cfgPath)
	return loaded, cfgPath, err
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
