// Package extractive answers offline by picking the excerpt sentences that
// best match the question. It needs no model and never fails upstream.
package extractive

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
)

// DefaultMaxSentences bounds the length of an answer.
const DefaultMaxSentences = 5

var (
	sentencePattern = regexp.MustCompile(`(?s)[^.!?]+[.!?]+|[^.!?]+$`)
	headerPattern   = regexp.MustCompile(`^\[(\d+)\] (.+), section ([A-Z_]+)$`)
)

const questionMarker = "User question:"

// Generator ranks excerpt sentences by term frequency, boosted by overlap
// with the question, and returns the best ones in excerpt order.
type Generator struct {
	maxSentences int
}

var _ domain.Generator = (*Generator)(nil)

// New creates an extractive generator. maxSentences <= 0 uses the default.
func New(maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Generator{maxSentences: maxSentences}
}

// Name returns the generator identifier.
func (g *Generator) Name() string { return "extractive" }

type sentence struct {
	text   string
	source string
	order  int
	score  float64
}

// Generate builds an answer from the numbered excerpts in prompt.
func (g *Generator) Generate(ctx context.Context, prompt string, _ domain.GenerateOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.Upstream("extractive", err)
	}
	body, question := split(prompt)
	sentences := parse(body)
	if len(sentences) == 0 {
		return answerer.NoInformation, nil
	}

	freq := map[string]float64{}
	for _, s := range sentences {
		for _, tok := range embedding.Tokens(s.text) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF == 0 {
		maxF = 1
	}
	query := map[string]bool{}
	for _, tok := range embedding.Tokens(question) {
		query[tok] = true
	}

	for i := range sentences {
		toks := embedding.Tokens(sentences[i].text)
		if len(toks) == 0 {
			continue
		}
		score, hits := 0.0, 0
		for _, tok := range toks {
			score += freq[tok] / maxF
			if query[tok] {
				hits++
			}
		}
		// Normalize by sentence length to avoid bias
		score /= math.Sqrt(float64(len(toks)))
		sentences[i].score = score + float64(hits)
	}
	ranked := make([]sentence, len(sentences))
	copy(ranked, sentences)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	n := min(g.maxSentences, len(ranked))
	selected := ranked[:n]
	// Keep original order among selected
	sort.Slice(selected, func(i, j int) bool { return selected[i].order < selected[j].order })

	var b strings.Builder
	for i, s := range selected {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(s.text)
		if s.source != "" && (i+1 == len(selected) || selected[i+1].source != s.source) {
			fmt.Fprintf(&b, " (%s)", s.source)
		}
	}
	return b.String(), nil
}

// split separates the excerpt block from the question.
func split(prompt string) (string, string) {
	i := strings.LastIndex(prompt, questionMarker)
	if i < 0 {
		return prompt, ""
	}
	question := prompt[i+len(questionMarker):]
	if j := strings.Index(question, "\n"); j >= 0 {
		question = question[:j]
	}
	return prompt[:i], strings.TrimSpace(question)
}

// parse reads "[n] Title (Year), section LABEL" excerpts into sentences
// attributed to their paper. Text outside any excerpt is ignored.
func parse(body string) []sentence {
	var out []sentence
	source := ""
	inExcerpt := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			source, inExcerpt = m[2], true
			continue
		}
		if line == "---" {
			inExcerpt = false
			continue
		}
		if !inExcerpt || line == "" {
			continue
		}
		for _, s := range sentencePattern.FindAllString(line, -1) {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, sentence{text: s, source: source, order: len(out)})
			}
		}
	}
	return out
}
