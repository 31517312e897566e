// Package answerer builds a grounded prompt from retrieved chunks, calls the
// language model and returns the answer with its citation list.
package answerer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
)

// NoInformation is returned, without calling the language model, when
// retrieval found nothing to answer from.
const NoInformation = "I don't have papers about that in my database."

// Defaults for generation.
const (
	DefaultTimeout      = 60 * time.Second
	DefaultHistoryLimit = 6
	DefaultMaxTokens    = 1024
	DefaultTemperature  = 0.3
)

// Citation is one (document, section) pair surfaced as context.
type Citation struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Year       int     `json:"year,omitempty"`
	Section    string  `json:"section"`
	Score      float64 `json:"score"`
}

// String renders the citation as "Title (Year), section".
func (c Citation) String() string {
	return fmt.Sprintf("%s, %s", domain.Citation(c.Title, c.Year), c.Section)
}

// Answer is a generated answer with the evidence it was given.
type Answer struct {
	Text      string
	Citations []Citation
	Sources   []domain.SearchResult
	Meta      bool
}

// UpstreamError reports a failed language model call. It carries the
// retrieved evidence so callers can still show it.
type UpstreamError struct {
	Err       error
	Sources   []domain.SearchResult
	Citations []Citation
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("generate answer: %v", e.Err)
}

// Unwrap lets errors.Is match both domain.ErrUpstreamUnavailable and the cause.
func (e *UpstreamError) Unwrap() []error {
	return []error{domain.ErrUpstreamUnavailable, e.Err}
}

// Citations lists the distinct (document, section) pairs of results in rank
// order.
func Citations(results []domain.SearchResult) []Citation {
	out := make([]Citation, 0, len(results))
	seen := map[[2]string]bool{}
	for _, r := range results {
		key := [2]string{r.Chunk.DocumentID, r.Chunk.Section}
		if seen[key] {
			continue
		}
		seen[key] = true
		title := r.Chunk.Title
		if title == "" {
			title = r.Chunk.DocumentID
		}
		out = append(out, Citation{
			DocumentID: r.Chunk.DocumentID,
			Title:      title,
			Year:       r.Chunk.Year,
			Section:    r.Chunk.Section,
			Score:      r.Score,
		})
	}
	return out
}

// Answerer turns retrieval results into an answer.
type Answerer struct {
	generator    domain.Generator
	timeout      time.Duration
	historyLimit int
	maxTokens    int
	temperature  float64
	stats        func() string
}

// Option configures an Answerer.
type Option func(*Answerer)

// WithTimeout bounds each language model call.
func WithTimeout(d time.Duration) Option {
	return func(a *Answerer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHistoryLimit sets how many past messages are sent along.
func WithHistoryLimit(n int) Option {
	return func(a *Answerer) { a.historyLimit = n }
}

// WithMaxTokens caps the answer length.
func WithMaxTokens(n int) Option {
	return func(a *Answerer) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(a *Answerer) { a.temperature = t }
}

// WithStats supplies the collection statistics block for meta questions.
func WithStats(stats func() string) Option {
	return func(a *Answerer) { a.stats = stats }
}

// New creates an Answerer over generator.
func New(generator domain.Generator, opts ...Option) *Answerer {
	a := &Answerer{
		generator:    generator,
		timeout:      DefaultTimeout,
		historyLimit: DefaultHistoryLimit,
		maxTokens:    DefaultMaxTokens,
		temperature:  DefaultTemperature,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type request struct {
	prompt    string
	options   domain.GenerateOptions
	citations []Citation
	meta      bool
}

// prepare builds the generation request, or returns nil when there is
// nothing to answer from.
func (a *Answerer) prepare(question string, results []domain.SearchResult, history []domain.Message) (*request, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("answer: %w: empty question", domain.ErrInvalidInput)
	}
	if len(results) == 0 {
		return nil, nil
	}
	meta := IsMeta(question)
	var stats string
	if meta && a.stats != nil {
		stats = a.stats()
	}
	system := SystemPrompt
	if meta && stats != "" {
		system = MetaSystemPrompt
	}
	return &request{
		prompt: BuildPrompt(question, results, stats),
		options: domain.GenerateOptions{
			System:      system,
			History:     trimHistory(history, a.historyLimit),
			MaxTokens:   a.maxTokens,
			Temperature: a.temperature,
		},
		citations: Citations(results),
		meta:      meta && stats != "",
	}, nil
}

// Answer generates an answer to question from results. With no results the
// fixed NoInformation answer is returned and the model is not called. A
// failed model call returns *UpstreamError holding results.
func (a *Answerer) Answer(ctx context.Context, question string, results []domain.SearchResult, history []domain.Message) (Answer, error) {
	req, err := a.prepare(question, results, history)
	if err != nil {
		return Answer{}, err
	}
	if req == nil {
		logger.Debug("answer: no context, short-circuiting")
		return Answer{Text: NoInformation, Citations: []Citation{}}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	start := time.Now()
	text, err := a.generator.Generate(ctx, req.prompt, req.options)
	if err != nil {
		return Answer{}, a.upstream(ctx, err, results, req.citations)
	}
	logger.Debug("answer: %s generated %d chars from %d chunks in %s", a.generator.Name(), len(text), len(results), time.Since(start).Round(time.Millisecond))
	return Answer{Text: strings.TrimSpace(text), Citations: req.citations, Sources: results, Meta: req.meta}, nil
}

// AnswerStream is Answer with incremental delivery: onCitations is called
// once before any text, then onToken for each fragment. Generators without
// streaming support deliver the whole answer as one fragment.
func (a *Answerer) AnswerStream(ctx context.Context, question string, results []domain.SearchResult, history []domain.Message,
	onCitations func([]Citation) error, onToken func(string) error) (Answer, error) {
	req, err := a.prepare(question, results, history)
	if err != nil {
		return Answer{}, err
	}
	if req == nil {
		if err := onCitations([]Citation{}); err != nil {
			return Answer{}, err
		}
		if err := onToken(NoInformation); err != nil {
			return Answer{}, err
		}
		return Answer{Text: NoInformation, Citations: []Citation{}}, nil
	}
	if err := onCitations(req.citations); err != nil {
		return Answer{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	var b strings.Builder
	var sinkErr error
	emit := func(s string) error {
		b.WriteString(s)
		if err := onToken(s); err != nil {
			sinkErr = err
			return err
		}
		return nil
	}

	if sg, ok := a.generator.(domain.StreamGenerator); ok {
		err = sg.GenerateStream(ctx, req.prompt, req.options, emit)
	} else {
		var text string
		text, err = a.generator.Generate(ctx, req.prompt, req.options)
		if err == nil {
			err = emit(text)
		}
	}
	if sinkErr != nil {
		return Answer{}, sinkErr
	}
	if err != nil {
		return Answer{}, a.upstream(ctx, err, results, req.citations)
	}
	return Answer{Text: strings.TrimSpace(b.String()), Citations: req.citations, Sources: results, Meta: req.meta}, nil
}

func (a *Answerer) upstream(ctx context.Context, err error, results []domain.SearchResult, citations []Citation) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = errors.Join(err, ctxErr)
	}
	logger.Warn("answer: %s failed, returning %d raw chunks: %v", a.generator.Name(), len(results), err)
	return &UpstreamError{Err: err, Sources: results, Citations: citations}
}
