// Package openai generates answers with an OpenAI-compatible chat
// completions endpoint. Streaming uses server-sent events.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"primate-rag/internal/domain"
	"primate-rag/internal/ratelimit"
)

// Defaults for the chat completions endpoint.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "gpt-4o-mini"
	DefaultTimeout    = 120 * time.Second
	DefaultMaxRetries = 3
)

// Config configures the chat client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Limiter    *ratelimit.Limiter
}

// Generator implements domain.StreamGenerator over chat completions.
type Generator struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	limiter    *ratelimit.Limiter
	maxRetries int
}

var _ domain.StreamGenerator = (*Generator)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// New creates a chat generator. A missing key is allowed for local servers
// when APIKeyEnv is empty.
func New(cfg Config) (*Generator, error) {
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
	return &Generator{
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		limiter:    cfg.Limiter,
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Name returns the generator identifier.
func (g *Generator) Name() string { return "openai:" + g.model }

func (g *Generator) request(prompt string, opts domain.GenerateOptions, stream bool) ([]byte, error) {
	messages := make([]chatMessage, 0, len(opts.History)+2)
	if opts.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.System})
	}
	for _, m := range opts.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	data, err := json.Marshal(chatRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

// Generate returns the whole completion for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	data, err := g.request(prompt, opts, false)
	if err != nil {
		return "", err
	}
	resp, err := g.send(ctx, data)
	if err != nil {
		return "", domain.Upstream("openai chat", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.Upstream("openai chat", fmt.Errorf("read response: %w", err))
	}
	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", domain.Upstream("openai chat", fmt.Errorf("decode response: %w", err))
	}
	if out.Error != nil {
		return "", domain.Upstream("openai chat", fmt.Errorf("openai error: %s", out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", domain.Upstream("openai chat", errors.New("no response choices returned"))
	}
	return out.Choices[0].Message.Content, nil
}

// GenerateStream delivers the completion as it arrives. An error returned by
// onToken stops the stream and is returned unchanged.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, opts domain.GenerateOptions, onToken func(string) error) error {
	data, err := g.request(prompt, opts, true)
	if err != nil {
		return err
	}
	resp, err := g.send(ctx, data)
	if err != nil {
		return domain.Upstream("openai chat stream", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		payload, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			return nil
		}
		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return domain.Upstream("openai chat stream", fmt.Errorf("decode event: %w", err))
		}
		if chunk.Error != nil {
			return domain.Upstream("openai chat stream", fmt.Errorf("openai error: %s", chunk.Error.Message))
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content == "" {
				continue
			}
			if err := onToken(c.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.Upstream("openai chat stream", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Upstream("openai chat stream", err)
	}
	return domain.Upstream("openai chat stream", errors.New("stream ended without [DONE]"))
}

// send posts data with pacing and retries 429 and 5xx responses. The caller
// owns the returned body.
func (g *Generator) send(ctx context.Context, data []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			if err := ratelimit.Sleep(ctx, ratelimit.RetryDelay(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}
		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("send request: %w", err)
			if ctx.Err() != nil {
				return nil, errors.Join(lastErr, ctx.Err())
			}
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		lastErr = fmt.Errorf("chat completion failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return nil, lastErr
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			g.limiter.Backoff(time.Duration(secs) * time.Second)
		}
	}
	return nil, lastErr
}
