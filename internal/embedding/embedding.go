// Package embedding holds helpers shared by the embedder implementations:
// input validation, tokenization, normalization and the query cache.
package embedding

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"primate-rag/internal/domain"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’-][\p{L}\p{N}]+)*`)

// CheckInput trims text and rejects it when nothing is left.
func CheckInput(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", fmt.Errorf("embed: %w: empty text", domain.ErrInvalidInput)
	}
	return trimmed, nil
}

// ChunkText is the text embedded for a chunk: its title and section followed by the body.
func ChunkText(c domain.Chunk) string {
	var b strings.Builder
	if c.Title != "" {
		b.WriteString("Title: ")
		b.WriteString(c.Title)
		b.WriteString("\n")
	}
	if c.Section != "" {
		b.WriteString("Section: ")
		b.WriteString(c.Section)
		b.WriteString("\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(c.Text)
	return b.String()
}

// Tokens lowercases text and returns its word tokens without stopwords.
func Tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

// IsStopword reports whether a lowercased token carries no topical signal.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Normalize scales v to unit length in place. Zero vectors are left untouched.
func Normalize(v []float64) {
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "why", "when", "where", "do", "does", "did", "we", "our", "us", "they", "their", "there", "has", "have", "had", "not", "no", "all", "any", "each", "also",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
