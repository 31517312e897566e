package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"primate-rag/internal/catalog"
	"primate-rag/internal/config"
	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
	"primate-rag/internal/ratelimit"
	"primate-rag/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat API",
	Long: `Serves the chat API:

  POST /chat         answer a question, with citations
  POST /chat/stream  the same answer as server-sent events
  GET  /papers       the paper catalog
  GET  /health       index and store status

Requests are limited per client and per day. With catalog.watch set, edits
to the catalog README take effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")
	rootCmd.AddCommand(serveCmd)
}

// openServingApp opens the pipeline for a long-running server. A corrupt
// store does not stop startup: the pipeline reports it through health and
// refuses questions.
func openServingApp(ctx context.Context) (*app, error) {
	a, err := openApp(ctx, cfg, true)
	if err != nil && !errors.Is(err, domain.ErrCorruptStore) {
		if a != nil {
			a.Close() //nolint:errcheck
		}
		return nil, err
	}
	if err != nil {
		logger.Error("serving without an index: %v", err)
	}
	watchCatalog(ctx, cfg.Catalog, a.membership)
	return a, nil
}

// watchCatalog keeps membership in step with the local README.
func watchCatalog(ctx context.Context, c config.CatalogConfig, m *catalog.Membership) {
	if !c.Watch || m == nil || c.ReadmePath == "" || c.GitHub != nil {
		return
	}
	go func() {
		err := catalog.Watch(ctx, c.ReadmePath, m, func(docs []domain.Document) {
			logger.Info("catalog reloaded: %d papers", len(docs))
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("catalog watch stopped: %v", err)
		}
	}()
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openServingApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	h := server.NewHandler(a.pipeline, server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Quota: ratelimit.QuotaConfig{
			PerClientHourly: cfg.Server.PerClientHourly,
			PerClientDaily:  cfg.Server.PerClientDaily,
			GlobalDaily:     cfg.Server.GlobalDaily,
		},
	})
	cmd.Printf("Listening on %s\n", addr)
	return server.Serve(ctx, addr, h)
}
