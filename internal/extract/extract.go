// Package extract turns raw document bytes into page text for the segmenter.
// It reads the text layer of PDFs page by page, and accepts plain text and
// markdown with form feeds marking page breaks.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"primate-rag/internal/domain"
)

var (
	multiBlankRe  = regexp.MustCompile(`\n{3,}`)
	multiSpaceRe  = regexp.MustCompile(` {2,}`)
	hyphenBreakRe = regexp.MustCompile(`(\p{L})-\n(\p{Ll})`)
)

// Extraction is the text of one document, page by page.
type Extraction struct {
	Name  string
	Pages []string
}

// Text joins the pages with newlines.
func (e Extraction) Text() string {
	return strings.Join(e.Pages, "\n")
}

// Empty reports whether no page holds any non-space text.
func (e Extraction) Empty() bool {
	for _, p := range e.Pages {
		if strings.TrimSpace(p) != "" {
			return false
		}
	}
	return true
}

// Extractor converts raw bytes to text.
type Extractor struct {
	clean           bool
	minCharsPerPage int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithCleaning collapses runs of blank lines and spaces and rejoins words
// hyphenated across line breaks.
func WithCleaning() Option {
	return func(e *Extractor) { e.clean = true }
}

// WithMinCharsPerPage rejects documents whose average page holds fewer
// characters, which usually means a scan without a text layer.
func WithMinCharsPerPage(n int) Option {
	return func(e *Extractor) { e.minCharsPerPage = n }
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFile reads and extracts the file at path.
func (e *Extractor) ExtractFile(ctx context.Context, path string) (Extraction, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("read %s: %w", path, err)
	}
	return e.Extract(ctx, filepath.Base(path), raw)
}

// Extract returns the page texts in raw. Binary or non-UTF-8 input, and
// PDFs that are encrypted, malformed or carry no text layer, fail with
// domain.ErrUnextractable rather than yielding empty text. Valid but empty
// plain text yields an empty Extraction.
func (e *Extractor) Extract(ctx context.Context, name string, raw []byte) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	var pages []string
	if bytes.HasPrefix(raw, pdfMagic) {
		var err error
		if pages, err = pdfPages(ctx, name, raw); err != nil {
			return Extraction{}, err
		}
		if (Extraction{Pages: pages}).Empty() {
			return Extraction{}, fmt.Errorf("extract %s: %w: PDF has no text layer, likely a scan", name, domain.ErrUnextractable)
		}
	} else {
		switch {
		case bytes.IndexByte(raw, 0) >= 0:
			return Extraction{}, fmt.Errorf("extract %s: %w: binary content", name, domain.ErrUnextractable)
		case !utf8.Valid(raw):
			return Extraction{}, fmt.Errorf("extract %s: %w: not valid UTF-8", name, domain.ErrUnextractable)
		}
		text := strings.TrimPrefix(string(raw), "\uFEFF")
		text = strings.ReplaceAll(text, "\r\n", "\n")
		pages = strings.Split(text, "\f")
	}
	if e.clean {
		for i, p := range pages {
			pages[i] = Clean(p)
		}
	}
	out := Extraction{Name: name, Pages: pages}
	if out.Empty() {
		return Extraction{Name: name}, nil
	}

	if e.minCharsPerPage > 0 {
		total := 0
		for _, p := range pages {
			total += utf8.RuneCountInString(strings.TrimSpace(p))
		}
		if avg := total / len(pages); avg < e.minCharsPerPage {
			return Extraction{}, fmt.Errorf("extract %s: %w: %d characters per page, likely a scan", name, domain.ErrUnextractable, avg)
		}
	}
	return out, nil
}

// Clean normalizes whitespace and rejoins hyphenated line breaks.
func Clean(text string) string {
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	text = multiBlankRe.ReplaceAllString(text, "\n\n")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
