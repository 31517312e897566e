// Package gemini generates answers with Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"primate-rag/internal/domain"
	"primate-rag/internal/ratelimit"
)

// DefaultModel is the Gemini model used when none is configured.
const DefaultModel = "gemini-1.5-flash"

// Config configures the Gemini generator.
type Config struct {
	APIKeyEnv string
	Model     string
	Limiter   *ratelimit.Limiter
}

// Generator implements domain.StreamGenerator over the Gemini API.
type Generator struct {
	client  *genai.Client
	model   string
	limiter *ratelimit.Limiter
}

var _ domain.StreamGenerator = (*Generator)(nil)

// New creates a Gemini generator. Close releases the underlying client.
func New(ctx context.Context, cfg Config) (*Generator, error) {
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
	return &Generator{client: client, model: cfg.Model, limiter: cfg.Limiter}, nil
}

// Name returns the generator identifier.
func (g *Generator) Name() string { return "gemini:" + g.model }

// session builds a chat session per call; GenerativeModel settings are not
// safe to share between concurrent requests.
func (g *Generator) session(opts domain.GenerateOptions) *genai.ChatSession {
	model := g.client.GenerativeModel(g.model)
	if opts.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(opts.System)}}
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}
	model.SetTemperature(float32(opts.Temperature))
	cs := model.StartChat()
	cs.History = History(opts.History)
	return cs
}

// History converts chat messages to Gemini contents. Gemini names the
// assistant role "model".
func History(messages []domain.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

// Generate returns the whole answer for prompt.
func (g *Generator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", domain.Upstream("gemini generate", err)
	}
	resp, err := g.session(opts).SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return "", domain.Upstream("gemini generate", err)
	}
	text := Text(resp)
	if text == "" {
		return "", domain.Upstream("gemini generate", errors.New("no candidates returned"))
	}
	return text, nil
}

// GenerateStream delivers the answer as Gemini produces it.
func (g *Generator) GenerateStream(ctx context.Context, prompt string, opts domain.GenerateOptions, onToken func(string) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.Upstream("gemini stream", err)
	}
	it := g.session(opts).SendMessageStream(ctx, genai.Text(prompt))
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return domain.Upstream("gemini stream", err)
		}
		if text := Text(resp); text != "" {
			if err := onToken(text); err != nil {
				return err
			}
		}
	}
}

// Text joins the text parts of the first candidate.
func Text(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

// Close releases the client.
func (g *Generator) Close() error {
	return g.client.Close()
}
