package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
	"primate-rag/internal/ratelimit"
)

// Defaults for the OpenAI-compatible embeddings endpoint.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "text-embedding-3-small"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 5
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// Ollama response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	limiter    *ratelimit.Limiter
	maxRetries int

	mu        sync.RWMutex
	dimension int
}

var _ domain.Embedder = (*Client)(nil)

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Dimension  int
	Timeout    time.Duration
	MaxRetries int
	Limiter    *ratelimit.Limiter
}

// NewClient creates a new embeddings client using the provided configuration.
// A missing key is allowed for local servers when APIKeyEnv is empty.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(ratelimit.DefaultConfig)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    cfg.Limiter,
		maxRetries: cfg.MaxRetries,
		dimension:  cfg.Dimension,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai" }

// ModelVersion tags vectors with the remote model name.
func (c *Client) ModelVersion() string { return "openai:" + c.model }

// Prepare is not required for remote embedding.
func (c *Client) Prepare([]string) error { return nil }

// Dimension returns the configured dimension, or the one learned from the first response.
func (c *Client) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) (domain.Vector, error) {
	text, err := embedding.CheckInput(text)
	if err != nil {
		return domain.Vector{}, err
	}
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return domain.Vector{}, fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + "/embeddings"

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := ratelimit.Sleep(ctx, ratelimit.RetryDelay(attempt-1)); err != nil {
				return domain.Vector{}, domain.Upstream("openai embeddings", err)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.Vector{}, domain.Upstream("openai embeddings", err)
		}
		values, retry, err := c.do(ctx, url, data)
		if err == nil {
			return c.accept(values)
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
	}
	return domain.Vector{}, domain.Upstream("openai embeddings", lastErr)
}

// do sends one request. retry reports whether the failure is transient.
func (c *Client) do(ctx context.Context, url string, data []byte) ([]float64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		// Respect Retry-After if provided
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			c.limiter.Backoff(time.Duration(secs) * time.Second)
		}
		return nil, true, fmt.Errorf("embeddings failed: %s", resp.Status)
	}
	if resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("embeddings failed: %s", resp.Status)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}
	// Try OpenAI-compatible response first
	var openaiOut struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &openaiOut); err == nil {
		if len(openaiOut.Data) > 0 && len(openaiOut.Data[0].Embedding) > 0 {
			return openaiOut.Data[0].Embedding, false, nil
		}
	}
	// Fallback to Ollama-native shape: { "embedding": [...] }
	var ollamaOut struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &ollamaOut); err == nil && len(ollamaOut.Embedding) > 0 {
		return ollamaOut.Embedding, false, nil
	}
	return nil, true, errors.New("no embedding returned")
}

func (c *Client) accept(values []float64) (domain.Vector, error) {
	c.mu.Lock()
	if c.dimension == 0 {
		c.dimension = len(values)
	}
	dim := c.dimension
	c.mu.Unlock()
	if len(values) != dim {
		return domain.Vector{}, fmt.Errorf("openai embeddings: %w: got %d values, want %d", domain.ErrDimensionMismatch, len(values), dim)
	}
	return domain.Vector{Values: values, Model: c.ModelVersion()}, nil
}
