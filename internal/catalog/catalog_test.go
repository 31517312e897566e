package catalog

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/domain"
)

const readme = `# Awesome Computational Primatology

Intro text | with a pipe.

### Projects

| Year | Paper | Topic | Animal | Model? | Data? | Code |
|------|-------|-------|--------|--------|-------|------|
| 2021 | [MacaquePose: A novel in the wild macaque pose dataset](https://www-frontiersin-org.proxy.library.uu.nl/articles/10.3389) | Pose estimation | Rhesus macaque | Yes | Yes | [GitHub](https://github.com/x/y) |
| 2017 | [LemurFaceID](https://doi.org/10.1186/s40850-016-0011-9) | Face recognition, Individual identification | Lemur | No | Yes | No |
| 2019 | Chimpanzee face recognition | Face recognition | Chimpanzee, Bonobo | Code only | No | No |

### Other resources

| a | b | c | d | e | f | g |
|---|---|---|---|---|---|---|
| x | x | x | x | x | x | x |
`

func TestParse(t *testing.T) {
	docs, err := Parse(strings.NewReader(readme))
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, domain.Document{
		ID:      "paper_1",
		Title:   "MacaquePose: A novel in the wild macaque pose dataset",
		Year:    2021,
		Species: "Rhesus macaque",
		Topics:  "Pose estimation",
		URL:     "https://www.frontiersin.org/articles/10.3389",
		HasCode: true,
	}, docs[0])

	assert.Equal(t, "paper_2", docs[1].ID)
	assert.Equal(t, "LemurFaceID", docs[1].Title)
	assert.Equal(t, 2017, docs[1].Year)
	assert.Equal(t, "https://doi.org/10.1186/s40850-016-0011-9", docs[1].URL)
	assert.False(t, docs[1].HasCode)

	assert.Equal(t, "Chimpanzee face recognition", docs[2].Title)
	assert.Empty(t, docs[2].URL)
	assert.True(t, docs[2].HasCode)
}

func TestParse_NoTable(t *testing.T) {
	_, err := Parse(strings.NewReader("# Title\n\n### Projects\n\nnothing here\n"))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestCleanURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://www-nature-com.proxy.library.uu.nl/articles/s1", "https://www.nature.com/articles/s1"},
		{"https://link-springer-com.proxy.uba.example.edu/x", "https://link.springer.com/x"},
		{"https://arxiv.org/abs/2101.0001", "https://arxiv.org/abs/2101.0001"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanURL(tt.in))
		})
	}
}

func TestMembership(t *testing.T) {
	m := NewMembership([]domain.Document{{ID: "paper_2"}, {ID: "paper_1", Title: "MacaquePose"}})
	assert.True(t, m.Contains("paper_1"))
	assert.False(t, m.Contains("paper_3"))
	assert.Equal(t, []string{"paper_1", "paper_2"}, m.IDs())
	doc, ok := m.Lookup("paper_1")
	assert.True(t, ok)
	assert.Equal(t, "MacaquePose", doc.Title)

	m.Replace([]domain.Document{{ID: "paper_3"}})
	assert.False(t, m.Contains("paper_1"))
	assert.Equal(t, 1, m.Len())

	var zero Membership
	assert.False(t, zero.Contains("x"))
	assert.Empty(t, zero.Documents())
}

func TestMembership_ConcurrentReplace(t *testing.T) {
	m := NewMembership(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				if n%50 == 0 {
					m.Replace([]domain.Document{{ID: "paper_1"}, {ID: "paper_2"}})
				}
				docs := m.Documents()
				for _, d := range docs {
					_, _ = m.Lookup(d.ID)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 2, m.Len())
}

func TestComputeStats(t *testing.T) {
	docs, err := Parse(strings.NewReader(readme))
	require.NoError(t, err)
	st := ComputeStats(docs)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.WithCode)
	assert.Equal(t, []Count{{"Face recognition", 2}, {"Individual identification", 1}, {"Pose estimation", 1}}, st.ByTopic)
	assert.Equal(t, []Count{{"2021", 1}, {"2019", 1}, {"2017", 1}}, st.ByYear)
	assert.Len(t, st.BySpecies, 4)
	assert.Len(t, st.MostStudied(2), 2)
	assert.Len(t, st.LeastStudied(10), 4)

	ctx := st.Context()
	assert.True(t, strings.HasPrefix(ctx, "=== DATASET STATISTICS ==="))
	assert.Contains(t, ctx, "Total papers in database: 3")
	assert.Contains(t, ctx, "  - Face recognition: 2 papers")
	assert.Empty(t, ComputeStats(nil).Context())
}

func TestWatch_ReplacesMembershipOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(path, []byte(readme), 0o644))
	docs, err := ParseFile(path)
	require.NoError(t, err)
	m := NewMembership(docs)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	changed := make(chan int, 4)
	go func() {
		done <- Watch(ctx, path, m, func(d []domain.Document) {
			select {
			case changed <- len(d):
			default:
			}
		})
	}()
	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// A broken README keeps the previous set.
	require.NoError(t, os.WriteFile(path, []byte("no table"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, m.Len())

	shorter := strings.Replace(readme, "| 2019 | Chimpanzee face recognition | Face recognition | Chimpanzee, Bonobo | Code only | No | No |\n", "", 1)
	require.NoError(t, os.WriteFile(path, []byte(shorter), 0o644))
	assert.Eventually(t, func() bool { return m.Len() == 2 }, 2*time.Second, 20*time.Millisecond)
	assert.False(t, m.Contains("paper_3"))

	cancel()
	require.NoError(t, <-done)
	assert.NotEmpty(t, changed)
}

func TestGitHubSource_Fetch(t *testing.T) {
	var gotRef, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/primates/awesome/contents/README.md" {
			http.NotFound(w, r)
			return
		}
		gotRef = r.URL.Query().Get("ref")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "file",
			"name":     "README.md",
			"path":     "README.md",
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString([]byte(readme)),
		})
	}))
	defer srv.Close()

	src, err := NewGitHubSource(context.Background(), "primates", "awesome", "main", "tok").WithBaseURL(srv.URL)
	require.NoError(t, err)
	docs, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	assert.Equal(t, "main", gotRef)
	assert.Equal(t, "Bearer tok", gotAuth)

	src.Path = "MISSING.md"
	_, err = src.Fetch(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
