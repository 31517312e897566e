// Package server exposes the question-answering pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
	"primate-rag/internal/ratelimit"
	"primate-rag/internal/service"
)

// Pipeline is the subset of service.Pipeline the HTTP API needs.
type Pipeline interface {
	Ask(ctx context.Context, question string, history []domain.Message) (answerer.Answer, error)
	AskStream(ctx context.Context, question string, history []domain.Message,
		onCitations func([]answerer.Citation) error, onToken func(string) error) (answerer.Answer, error)
	Papers() []domain.Document
	Health() service.Health
}

var _ Pipeline = (*service.Pipeline)(nil)

// Config configures the HTTP API.
type Config struct {
	// AllowedOrigins are URL prefixes a browser request must come from.
	// Empty allows any origin.
	AllowedOrigins []string
	Quota          ratelimit.QuotaConfig
	// MaxQuestionLength bounds the question size in bytes.
	MaxQuestionLength int
}

// Handler serves the chat API.
type Handler struct {
	pipeline Pipeline
	quota    *ratelimit.Quota
	cfg      Config
}

// NewHandler creates a handler over p.
func NewHandler(p Pipeline, cfg Config) *Handler {
	if cfg.MaxQuestionLength <= 0 {
		cfg.MaxQuestionLength = 2000
	}
	return &Handler{pipeline: p, quota: ratelimit.NewQuota(cfg.Quota), cfg: cfg}
}

// Router builds the gin engine with all routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(), h.originCheck())

	r.GET("/health", h.Health)
	r.GET("/papers", h.Papers)
	chat := r.Group("/chat", h.rateLimit())
	chat.POST("", h.Chat)
	chat.POST("/stream", h.ChatStream)
	return r
}

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s [%s]", c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			time.Since(start).Round(time.Millisecond), c.GetString("request_id"))
	}
}

func fail(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
		"request_id": c.GetString("request_id"),
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// classify maps a pipeline error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, domain.ErrCorruptStore):
		return http.StatusInternalServerError, "CORRUPT_STORE"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, domain.ErrVersionMismatch), errors.Is(err, domain.ErrDimensionMismatch):
		return http.StatusInternalServerError, "INDEX_MISMATCH"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
