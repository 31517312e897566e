// Package mcp exposes the pipeline as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

const papersURI = "primate-rag://papers"

// Pipeline is the subset of service.Pipeline the tools need.
type Pipeline interface {
	Ask(ctx context.Context, question string, history []domain.Message) (answerer.Answer, error)
	Search(ctx context.Context, question string, k int) ([]domain.SearchResult, error)
	Papers() []domain.Document
}

// Server is the MCP server.
type Server struct {
	pipeline Pipeline
	server   *mcp.Server
}

// NewServer creates an MCP server over p.
func NewServer(p Pipeline) (*Server, error) {
	if p == nil {
		return nil, errors.New("mcp: pipeline is required")
	}
	s := &Server{
		pipeline: p,
		server:   mcp.NewServer(&mcp.Implementation{Name: "primate-rag", Version: Version}, nil),
	}
	s.registerTools()
	s.server.AddResource(&mcp.Resource{
		URI:         papersURI,
		Name:        "papers",
		Description: "Papers in the computational primatology catalog",
		MIMEType:    "application/json",
	}, s.handlePapersResource)
	return s, nil
}

// Run serves over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	logger.Info("mcp: serving on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	logger.Info("mcp: serving on %s", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
