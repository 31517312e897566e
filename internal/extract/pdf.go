package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"primate-rag/internal/domain"
)

var pdfMagic = []byte("%PDF-")

// pdfPages returns the text layer of each page, one line per text row.
// Encrypted and malformed files fail with ErrUnextractable.
func pdfPages(ctx context.Context, name string, raw []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("extract %s: %w: malformed PDF: %v", name, domain.ErrUnextractable, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w: %v", name, domain.ErrUnextractable, err)
	}
	n := r.NumPage()
	if n == 0 {
		return nil, fmt.Errorf("extract %s: %w: PDF has no pages", name, domain.ErrUnextractable)
	}
	pages = make([]string, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		rows, err := p.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("extract %s page %d: %w: %v", name, i, domain.ErrUnextractable, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			var b strings.Builder
			for _, word := range row.Content {
				b.WriteString(word.S)
			}
			if line := strings.TrimSpace(b.String()); line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, strings.ToValidUTF8(strings.Join(lines, "\n"), ""))
	}
	return pages, nil
}
