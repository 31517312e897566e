package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/domain"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name          string
		raw           []byte
		pages         int
		unextractable bool
	}{
		{"plain", []byte("Abstract\nWe study macaques."), 1, false},
		{"pages", []byte("page one\fpage two\fpage three"), 3, false},
		{"bom and crlf", []byte("\uFEFFLine one\r\nLine two"), 1, false},
		{"empty", []byte(""), 0, false},
		{"whitespace", []byte(" \n\t\f \n"), 0, false},
		{"binary", []byte("abc\x00def"), 0, true},
		{"invalid utf8", []byte("abc\xff\xfe"), 0, true},
		{"pdf", []byte("%PDF-1.7\n..."), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New().Extract(context.Background(), tt.name, tt.raw)
			if tt.unextractable {
				assert.True(t, errors.Is(err, domain.ErrUnextractable), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got.Pages, tt.pages)
		})
	}
}

func TestExtract_NormalizesText(t *testing.T) {
	got, err := New().Extract(context.Background(), "x", []byte("\uFEFFLine one\r\nLine two"))
	require.NoError(t, err)
	assert.Equal(t, "Line one\nLine two", got.Text())
}

func TestExtract_Cleaning(t *testing.T) {
	raw := []byte("The macaque pose esti-\nmation network.\n\n\n\nSecond  paragraph   here.")
	got, err := New(WithCleaning()).Extract(context.Background(), "x", raw)
	require.NoError(t, err)
	assert.Equal(t, "The macaque pose estimation network.\n\nSecond paragraph here.", got.Text())
}

func TestExtract_MinCharsPerPage(t *testing.T) {
	raw := []byte("short\fpage\f" + strings.Repeat("x", 20))
	_, err := New(WithMinCharsPerPage(500)).Extract(context.Background(), "scan", raw)
	assert.True(t, errors.Is(err, domain.ErrUnextractable))

	_, err = New(WithMinCharsPerPage(5)).Extract(context.Background(), "ok", raw)
	assert.NoError(t, err)
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper_1.txt")
	require.NoError(t, os.WriteFile(path, []byte("Methods\nResNet-50."), 0o644))
	got, err := New().ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "paper_1.txt", got.Name)
	assert.Equal(t, "Methods\nResNet-50.", got.Text())

	_, err = New().ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Extract(ctx, "x", []byte("text"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExtract_PDF(t *testing.T) {
	got, err := New().ExtractFile(context.Background(), filepath.Join("testdata", "paper.pdf"))
	require.NoError(t, err)
	require.Len(t, got.Pages, 2)
	assert.Contains(t, got.Pages[0], "Abstract")
	assert.Contains(t, got.Pages[0], "macaque")
	assert.Contains(t, got.Pages[1], "ResNet-50")
	assert.NotContains(t, got.Pages[0], "ResNet-50")
}

func TestExtract_PDFWithoutTextLayer(t *testing.T) {
	_, err := New().ExtractFile(context.Background(), filepath.Join("testdata", "scan.pdf"))
	assert.True(t, errors.Is(err, domain.ErrUnextractable), "got %v", err)
}
