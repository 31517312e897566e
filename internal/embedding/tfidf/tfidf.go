package tfidf

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
)

// ErrNotPrepared is returned by Embed before Prepare has built a vocabulary.
var ErrNotPrepared = errors.New("tfidf embedder not prepared")

// Embedder implements a TF-IDF vectorizer over the indexed chunk corpus.
// Its model version is derived from the vocabulary, so vectors built against
// a different corpus are rejected by the index.
type Embedder struct {
	mu         sync.RWMutex
	vocabulary map[string]int
	idf        []float64
	version    string
}

var _ domain.CorpusEmbedder = (*Embedder)(nil)

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder() *Embedder {
	return &Embedder{vocabulary: make(map[string]int)}
}

// Fork returns a new unprepared TF-IDF embedder.
func (e *Embedder) Fork() domain.CorpusEmbedder { return NewEmbedder() }

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// ModelVersion identifies the prepared vocabulary. Empty before Prepare.
func (e *Embedder) ModelVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Prepare builds the vocabulary and IDF values from the provided corpus.
// The same corpus always yields the same vocabulary and version.
func (e *Embedder) Prepare(corpus []string) error {
	if len(corpus) == 0 {
		return fmt.Errorf("tfidf prepare: %w: empty corpus", domain.ErrInvalidInput)
	}
	df := make(map[string]int)
	for _, text := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range embedding.Tokens(text) {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return fmt.Errorf("tfidf prepare: %w: no tokens found in corpus", domain.ErrInvalidInput)
	}

	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	h := sha1.New()
	n := float64(len(corpus))
	for i, term := range terms {
		vocabulary[term] = i
		// Smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
		fmt.Fprintf(h, "%s:%d\n", term, df[term])
	}
	fmt.Fprintf(h, "n=%d", len(corpus))

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vocabulary = vocabulary
	e.idf = idf
	e.version = "tfidf:" + hex.EncodeToString(h.Sum(nil))[:16]
	return nil
}

// Dimension returns the vocabulary size.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.idf)
}

// Embed computes the L2-normalized TF-IDF vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	text, err := embedding.CheckInput(text)
	if err != nil {
		return domain.Vector{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Vector{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.version == "" {
		return domain.Vector{}, ErrNotPrepared
	}
	vec := make([]float64, len(e.idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range embedding.Tokens(text) {
		if idx, ok := e.vocabulary[tok]; ok {
			tf[idx]++
			total++
		}
	}
	for idx, count := range tf {
		vec[idx] = float64(count) / float64(total) * e.idf[idx]
	}
	embedding.Normalize(vec)
	return domain.Vector{Values: vec, Model: e.version}, nil
}
