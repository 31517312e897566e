// Package gemini embeds text with Google's Gemini embedding models.
package gemini

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
	"primate-rag/internal/ratelimit"
)

// DefaultModel is the Gemini embedding model used when none is configured.
const DefaultModel = "text-embedding-004"

// Config configures the Gemini embedder.
type Config struct {
	APIKeyEnv string
	Model     string
	// TaskType is "retrieval_document" (default) or "retrieval_query".
	TaskType string
	Limiter  *ratelimit.Limiter
}

// Embedder calls the Gemini embedContent API.
type Embedder struct {
	client  *genai.Client
	model   *genai.EmbeddingModel
	name    string
	limiter *ratelimit.Limiter

	mu        sync.RWMutex
	dimension int
}

var _ domain.Embedder = (*Embedder)(nil)

// New creates a Gemini embedder. Close releases the underlying client.
func New(ctx context.Context, cfg Config) (*Embedder, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GEMINI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultConfig)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := client.EmbeddingModel(cfg.Model)
	model.TaskType = genai.TaskTypeRetrievalDocument
	if cfg.TaskType == "retrieval_query" {
		model.TaskType = genai.TaskTypeRetrievalQuery
	}
	return &Embedder{client: client, model: model, name: cfg.Model, limiter: cfg.Limiter}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "gemini" }

// ModelVersion tags vectors with the Gemini model name.
func (e *Embedder) ModelVersion() string { return "gemini:" + e.name }

// Prepare is not required for remote embedding.
func (e *Embedder) Prepare([]string) error { return nil }

// Dimension returns the dimension learned from the first response.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// Embed returns the L2-normalized embedding for text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	text, err := embedding.CheckInput(text)
	if err != nil {
		return domain.Vector{}, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return domain.Vector{}, domain.Upstream("gemini embed", err)
	}
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return domain.Vector{}, domain.Upstream("gemini embed", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return domain.Vector{}, domain.Upstream("gemini embed", fmt.Errorf("no embedding returned"))
	}
	values := make([]float64, len(res.Embedding.Values))
	for i, v := range res.Embedding.Values {
		values[i] = float64(v)
	}
	embedding.Normalize(values)

	e.mu.Lock()
	if e.dimension == 0 {
		e.dimension = len(values)
	}
	dim := e.dimension
	e.mu.Unlock()
	if len(values) != dim {
		return domain.Vector{}, fmt.Errorf("gemini embed: %w: got %d values, want %d", domain.ErrDimensionMismatch, len(values), dim)
	}
	return domain.Vector{Values: values, Model: e.ModelVersion()}, nil
}

// Close releases the client.
func (e *Embedder) Close() error {
	return e.client.Close()
}
