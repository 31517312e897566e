// Package hashing implements a feature-hashing embedder. It needs no corpus
// preparation and no network, so vectors are stable across processes.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"maps"
	"math"
	"slices"
	"strings"

	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
)

// DefaultDimension matches the sentence-transformer models used in production.
const DefaultDimension = 384

// Embedder hashes tokens and adjacent token pairs into a fixed number of buckets.
type Embedder struct {
	dimension int
}

var _ domain.Embedder = (*Embedder)(nil)

// NewEmbedder creates a hashing embedder. Non-positive dimensions use DefaultDimension.
func NewEmbedder(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// ModelVersion changes whenever the hashing scheme or dimension does.
func (e *Embedder) ModelVersion() string { return fmt.Sprintf("hashing:v1:%d", e.dimension) }

// Prepare is a no-op.
func (e *Embedder) Prepare([]string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed bag-of-words vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	text, err := embedding.CheckInput(text)
	if err != nil {
		return domain.Vector{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Vector{}, err
	}
	tokens := embedding.Tokens(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}
	vec := make([]float64, e.dimension)
	// Sorted so the floating point sums are bit-for-bit reproducible.
	for _, feature := range slices.Sorted(maps.Keys(counts)) {
		idx, sign := e.bucket(feature)
		weight := 1 + math.Log(float64(counts[feature]))
		if strings.Contains(feature, " ") {
			weight *= 0.5
		}
		vec[idx] += sign * weight
	}
	embedding.Normalize(vec)
	return domain.Vector{Values: vec, Model: e.ModelVersion()}, nil
}

func (e *Embedder) bucket(feature string) (int, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	sign := 1.0
	if sum>>63 == 1 {
		sign = -1
	}
	return int(sum % uint64(e.dimension)), sign
}
