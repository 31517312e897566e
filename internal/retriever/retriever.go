// Package retriever turns a question into a ranked list of live chunks.
package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"primate-rag/internal/domain"
	"primate-rag/internal/index"
	"primate-rag/internal/logger"
)

// DefaultTopK is the number of chunks returned when no limit is configured.
const DefaultTopK = 10

// Retriever embeds a question and searches the index for the nearest chunks.
type Retriever struct {
	embedder   domain.Embedder
	index      *index.Index
	membership domain.MembershipFeed

	topK      int
	minScore  float64
	hasFloor  bool
	maxPerDoc int
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithTopK sets the default result count. Values below 1 are rejected by New.
func WithTopK(k int) Option {
	return func(r *Retriever) { r.topK = k }
}

// WithMinScore drops results whose similarity is below score.
func WithMinScore(score float64) Option {
	return func(r *Retriever) {
		r.minScore = score
		r.hasFloor = true
	}
}

// WithMaxPerDocument caps how many chunks of one document may appear in a
// result. Zero means no cap.
func WithMaxPerDocument(n int) Option {
	return func(r *Retriever) { r.maxPerDoc = n }
}

// WithMembership restricts results to documents the feed reports as live.
func WithMembership(feed domain.MembershipFeed) Option {
	return func(r *Retriever) { r.membership = feed }
}

// New creates a Retriever over ix. Questions are embedded by the embedder
// attached to the snapshot being searched, falling back to embedder.
func New(embedder domain.Embedder, ix *index.Index, opts ...Option) (*Retriever, error) {
	r := &Retriever{embedder: embedder, index: ix, topK: DefaultTopK}
	for _, opt := range opts {
		opt(r)
	}
	if r.topK < 1 {
		return nil, fmt.Errorf("retriever: %w: top-k must be at least 1, got %d", domain.ErrInvalidInput, r.topK)
	}
	if r.maxPerDoc < 0 {
		return nil, fmt.Errorf("retriever: %w: max per document must not be negative", domain.ErrInvalidInput)
	}
	return r, nil
}

// TopK returns the default result count.
func (r *Retriever) TopK() int { return r.topK }

// Retrieve returns up to the default top-k chunks for question.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]domain.SearchResult, error) {
	return r.RetrieveK(ctx, question, r.topK)
}

// RetrieveK returns up to k chunks for question, ordered by descending
// similarity. An empty index yields an empty result without calling the
// embedder. Chunks of documents missing from the membership feed are never
// returned.
func (r *Retriever) RetrieveK(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("retrieve: %w: top-k must be at least 1, got %d", domain.ErrInvalidInput, k)
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("retrieve: %w: empty question", domain.ErrInvalidInput)
	}
	snap := r.index.Snapshot()
	if snap.Len() == 0 {
		logger.Debug("retrieve: index is empty")
		return nil, nil
	}

	embedder := r.embedder
	if e := snap.Embedder(); e != nil {
		embedder = e
	}
	start := time.Now()
	query, err := embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	embedded := time.Since(start)

	fetch := k
	if r.maxPerDoc > 0 {
		fetch = snap.Len()
	}
	var keep func(domain.Chunk) bool
	if r.membership != nil {
		keep = func(c domain.Chunk) bool { return r.membership.Contains(c.DocumentID) }
	}
	results, err := snap.SearchFunc(query, fetch, keep)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	out := make([]domain.SearchResult, 0, min(k, len(results)))
	perDoc := map[string]int{}
	for _, res := range results {
		if r.hasFloor && res.Score < r.minScore {
			break
		}
		if r.maxPerDoc > 0 {
			if perDoc[res.Chunk.DocumentID] >= r.maxPerDoc {
				continue
			}
			perDoc[res.Chunk.DocumentID]++
		}
		out = append(out, res)
		if len(out) == k {
			break
		}
	}
	logger.Debug("retrieve: %d of %d chunks (embed %s, total %s, snapshot %s)",
		len(out), snap.Len(), embedded.Round(time.Millisecond), time.Since(start).Round(time.Millisecond), snap.ID())
	return out, nil
}
