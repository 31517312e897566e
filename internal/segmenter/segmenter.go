// Package segmenter splits a document's text into section-labeled,
// word-bounded chunks. Output is a pure function of the input text and options.
package segmenter

import (
	"fmt"
	"iter"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"primate-rag/internal/domain"
)

// Default chunk bounds, in words.
const (
	DefaultMaxWords = 300
	DefaultMinWords = 60
)

// boundaryRe matches the end of a sentence or a paragraph break, including
// the whitespace that follows so units tile the text without gaps.
var boundaryRe = regexp.MustCompile(`[.!?]["'’”)\]]*\s+|\n[ \t]*\n\s*`)

// Segmenter implements domain.Chunker.
type Segmenter struct {
	maxWords      int
	minWords      int
	lookbackWords int
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxWords sets the upper word bound of a chunk.
func WithMaxWords(n int) Option {
	return func(s *Segmenter) {
		if n > 0 {
			s.maxWords = n
		}
	}
}

// WithMinWords sets the size below which a chunk is merged with a neighbour.
func WithMinWords(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.minWords = n
		}
	}
}

// WithLookbackWords sets how far before the word limit a sentence boundary
// may lie and still end the chunk. When the nearest boundary is further back,
// the next sentence is split at the limit. Zero means the whole chunk.
func WithLookbackWords(n int) Option {
	return func(s *Segmenter) {
		if n >= 0 {
			s.lookbackWords = n
		}
	}
}

// New creates a Segmenter with the given options.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{maxWords: DefaultMaxWords, minWords: DefaultMinWords}
	for _, opt := range opts {
		opt(s)
	}
	if s.minWords > s.maxWords {
		s.minWords = s.maxWords
	}
	if s.lookbackWords == 0 || s.lookbackWords > s.maxWords {
		s.lookbackWords = s.maxWords
	}
	return s
}

// Chunk segments the whole document. Empty text yields no chunks.
func (s *Segmenter) Chunk(document domain.Document) ([]domain.Chunk, error) {
	if !utf8.ValidString(document.Content) {
		return nil, fmt.Errorf("segment %s: %w: text is not valid UTF-8", document.ID, domain.ErrInvalidInput)
	}
	return slices.Collect(s.Seq(document)), nil
}

// Seq lazily yields the document's chunks in ordinal order. Each call restarts
// from the beginning.
func (s *Segmenter) Seq(document domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		text := normalize(document.Content)
		if strings.TrimSpace(text) == "" {
			return
		}
		ordinal := 0
		for _, sec := range sections(text) {
			body := text[sec.start:sec.end]
			for _, p := range s.pack(body, units(body, sec.heading-sec.start)) {
				chunkText := strings.TrimSpace(body[p.start:p.end])
				if chunkText == "" {
					continue
				}
				chunk := domain.Chunk{
					DocumentID: document.ID,
					ChunkID:    fmt.Sprintf("%s_%s_%03d", document.ID, sec.label, ordinal),
					Section:    string(sec.label),
					Text:       chunkText,
					Index:      ordinal,
					WordCount:  p.words,
					Title:      document.Title,
					Year:       document.Year,
				}
				ordinal++
				if !yield(chunk) {
					return
				}
			}
		}
	}
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// piece is a byte range of a section with its word count.
type piece struct {
	start, end int
	words      int
}

// units tiles body into sentence and paragraph units. headingEnd, when
// positive, is also a boundary.
func units(body string, headingEnd int) []piece {
	var cuts []int
	if headingEnd > 0 && headingEnd < len(body) {
		cuts = append(cuts, headingEnd)
	}
	for _, m := range boundaryRe.FindAllStringIndex(body, -1) {
		if m[1] < len(body) {
			cuts = append(cuts, m[1])
		}
	}
	cuts = append(cuts, len(body))
	slices.Sort(cuts)
	cuts = slices.Compact(cuts)

	out := make([]piece, 0, len(cuts))
	prev := 0
	for _, c := range cuts {
		if c <= prev {
			continue
		}
		out = append(out, piece{start: prev, end: c, words: countWords(body[prev:c])})
		prev = c
	}
	return out
}

// splitAt cuts p so that its first part holds n words.
func splitAt(body string, p piece, n int) (piece, piece) {
	seen := 0
	inWord := false
	for i, r := range body[p.start:p.end] {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			if seen == n {
				cut := p.start + i
				return piece{start: p.start, end: cut, words: n}, piece{start: cut, end: p.end, words: p.words - n}
			}
			seen++
			inWord = true
		}
	}
	return p, piece{start: p.end, end: p.end}
}

// pack greedily fills chunks with whole units up to maxWords, then merges
// undersized chunks into their neighbours.
func (s *Segmenter) pack(body string, us []piece) []piece {
	var groups [][]piece
	var cur []piece
	curWords := 0
	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, cur)
			cur, curWords = nil, 0
		}
	}
	for len(us) > 0 {
		u := us[0]
		if curWords+u.words <= s.maxWords {
			cur = append(cur, u)
			curWords += u.words
			us = us[1:]
			continue
		}
		if room := s.maxWords - curWords; curWords > 0 && room > s.lookbackWords {
			// Nearest boundary lies outside the lookback window: fill to the limit.
			head, tail := splitAt(body, u, room)
			cur = append(cur, head)
			flush()
			us[0] = tail
			continue
		}
		flush()
		if u.words > s.maxWords {
			head, tail := splitAt(body, u, s.maxWords)
			groups = append(groups, []piece{head})
			us[0] = tail
			continue
		}
		cur = append(cur, u)
		curWords = u.words
		us = us[1:]
	}
	flush()
	groups = s.mergeSmall(groups)

	out := make([]piece, len(groups))
	for i, g := range groups {
		out[i] = piece{start: g[0].start, end: g[len(g)-1].end, words: sumWords(g)}
	}
	return out
}

// mergeSmall folds chunks under minWords forward into the next chunk, and a
// trailing one backward. A backward merge that would exceed maxWords is
// re-split at the boundary nearest the middle.
func (s *Segmenter) mergeSmall(groups [][]piece) [][]piece {
	for i := 0; i+1 < len(groups); {
		a, b := sumWords(groups[i]), sumWords(groups[i+1])
		if a < s.minWords && a+b <= s.maxWords {
			groups[i+1] = append(groups[i], groups[i+1]...)
			groups = slices.Delete(groups, i, i+1)
			continue
		}
		i++
	}
	n := len(groups)
	if n < 2 || sumWords(groups[n-1]) >= s.minWords {
		return groups
	}
	combined := append(slices.Clone(groups[n-2]), groups[n-1]...)
	total := sumWords(combined)
	if total <= s.maxWords {
		return append(groups[:n-2], combined)
	}
	best, bestDiff, left := -1, total, 0
	for k := 1; k < len(combined); k++ {
		left += combined[k-1].words
		if left > s.maxWords || total-left > s.maxWords {
			continue
		}
		diff := left*2 - total
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = k, diff
		}
	}
	if best > 0 {
		groups[n-2], groups[n-1] = combined[:best], combined[best:]
	}
	return groups
}

func sumWords(ps []piece) int {
	n := 0
	for _, p := range ps {
		n += p.words
	}
	return n
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
