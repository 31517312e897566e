package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/catalog"
	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
	"primate-rag/internal/embedding/hashing"
	"primate-rag/internal/index"
	"primate-rag/internal/segmenter"
)

var papers = []domain.Document{
	{
		ID: "paper_1", Title: "MacaquePose", Year: 2021,
		Content: "Abstract\nWe present a dataset of macaque images annotated with keypoints.\n\n" +
			"Methods\nWe use a ResNet-50 backbone network for macaque pose estimation, trained on the keypoint annotations.",
	},
	{
		ID: "paper_2", Title: "LemurFaceID", Year: 2017,
		Content: "Abstract\nA face recognition system for individual lemurs.\n\n" +
			"Methods\nWe identify individual lemurs from face images using local binary patterns and a multiscale descriptor.",
	},
}

func buildIndex(t *testing.T, e domain.Embedder, docs []domain.Document) *index.Index {
	t.Helper()
	seg := segmenter.New()
	var records []domain.Record
	for _, d := range docs {
		chunks, err := seg.Chunk(d)
		require.NoError(t, err)
		for _, c := range chunks {
			v, err := e.Embed(context.Background(), embedding.ChunkText(c))
			require.NoError(t, err)
			records = append(records, domain.Record{Chunk: c, Vector: v})
		}
	}
	ix := index.New()
	require.NoError(t, ix.Rebuild(records))
	return ix
}

func TestRetriever_MacaquePoseScenario(t *testing.T) {
	e := hashing.NewEmbedder(0)
	r, err := New(e, buildIndex(t, e, papers))
	require.NoError(t, err)

	results, err := r.RetrieveK(context.Background(), "What neural network backbone is used for macaque pose estimation?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "paper_1", results[0].Chunk.DocumentID)
	assert.Equal(t, "methods", results[0].Chunk.Section)
	assert.Contains(t, results[0].Chunk.Text, "ResNet-50")

	results, err = r.RetrieveK(context.Background(), "How are lemur faces identified with local binary patterns?", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "paper_2", results[0].Chunk.DocumentID)
}

func TestRetriever_OrderedAndBounded(t *testing.T) {
	e := hashing.NewEmbedder(0)
	r, err := New(e, buildIndex(t, e, papers), WithTopK(3))
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), "macaque keypoint dataset")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestRetriever_ExcludesStaleDocuments(t *testing.T) {
	e := hashing.NewEmbedder(0)
	live := catalog.NewMembership(papers)
	r, err := New(e, buildIndex(t, e, papers), WithMembership(live))
	require.NoError(t, err)

	q := "What neural network backbone is used for macaque pose estimation?"
	results, err := r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// paper_1 leaves the catalog; its chunks stay in the index until the next rebuild.
	live.Replace(papers[1:])
	results, err = r.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, results, "remaining documents still fill the result")
	for _, res := range results {
		assert.NotEqual(t, "paper_1", res.Chunk.DocumentID)
	}
}

func TestRetriever_MinScoreFloor(t *testing.T) {
	e := hashing.NewEmbedder(0)
	ix := buildIndex(t, e, papers)

	all, err := mustNew(t, e, ix).Retrieve(context.Background(), "macaque pose")
	require.NoError(t, err)
	require.NotEmpty(t, all)

	r := mustNew(t, e, ix, WithMinScore(all[0].Score))
	floored, err := r.Retrieve(context.Background(), "macaque pose")
	require.NoError(t, err)
	require.NotEmpty(t, floored)
	for _, res := range floored {
		assert.GreaterOrEqual(t, res.Score, all[0].Score)
	}

	none, err := mustNew(t, e, ix, WithMinScore(1.1)).Retrieve(context.Background(), "macaque pose")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRetriever_MaxPerDocument(t *testing.T) {
	ix := index.New()
	var records []domain.Record
	for i := 0; i < 6; i++ {
		doc := "paper_1"
		if i >= 4 {
			doc = "paper_2"
		}
		records = append(records, domain.Record{
			Chunk:  domain.Chunk{DocumentID: doc, ChunkID: fmt.Sprintf("%s_body_%03d", doc, i), Index: i},
			Vector: domain.Vector{Values: []float64{1, float64(i) * 0.01}, Model: "fixed"},
		})
	}
	require.NoError(t, ix.Rebuild(records))

	e := fixedEmbedder{domain.Vector{Values: []float64{1, 0}, Model: "fixed"}}
	results, err := mustNew(t, e, ix, WithMaxPerDocument(2)).RetrieveK(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	counts := map[string]int{}
	for _, r := range results {
		counts[r.Chunk.DocumentID]++
	}
	assert.Equal(t, 2, counts["paper_1"])
	assert.Equal(t, 1, counts["paper_2"])
}

func TestRetriever_EmptyIndexSkipsEmbedding(t *testing.T) {
	e := &failingEmbedder{}
	r := mustNew(t, e, index.New())
	results, err := r.Retrieve(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, e.calls)
}

func TestRetriever_Errors(t *testing.T) {
	_, err := New(hashing.NewEmbedder(0), index.New(), WithTopK(0))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	e := hashing.NewEmbedder(0)
	r := mustNew(t, e, buildIndex(t, e, papers))
	_, err = r.Retrieve(context.Background(), "   ")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	_, err = r.RetrieveK(context.Background(), "macaque", 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	// Query embedded by a different model than the index.
	other := mustNew(t, hashing.NewEmbedder(64), r.index)
	_, err = other.Retrieve(context.Background(), "macaque")
	assert.True(t, errors.Is(err, domain.ErrVersionMismatch))

	failing := mustNew(t, &failingEmbedder{}, r.index)
	_, err = failing.Retrieve(context.Background(), "macaque")
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}

func mustNew(t *testing.T, e domain.Embedder, ix *index.Index, opts ...Option) *Retriever {
	t.Helper()
	r, err := New(e, ix, opts...)
	require.NoError(t, err)
	return r
}

type fixedEmbedder struct{ v domain.Vector }

func (f fixedEmbedder) Name() string           { return "fixed" }
func (f fixedEmbedder) ModelVersion() string   { return f.v.Model }
func (f fixedEmbedder) Prepare([]string) error { return nil }
func (f fixedEmbedder) Dimension() int         { return len(f.v.Values) }
func (f fixedEmbedder) Embed(context.Context, string) (domain.Vector, error) {
	return f.v, nil
}

type failingEmbedder struct{ calls int }

func (f *failingEmbedder) Name() string           { return "failing" }
func (f *failingEmbedder) ModelVersion() string   { return "failing:v1" }
func (f *failingEmbedder) Prepare([]string) error { return nil }
func (f *failingEmbedder) Dimension() int         { return 2 }
func (f *failingEmbedder) Embed(context.Context, string) (domain.Vector, error) {
	f.calls++
	return domain.Vector{}, domain.Upstream("embed", errors.New("connection refused"))
}

// downEmbedder fails every call.
type downEmbedder struct{ domain.Embedder }

func (downEmbedder) Embed(context.Context, string) (domain.Vector, error) {
	return domain.Vector{}, domain.Upstream("down", errors.New("unreachable"))
}

func TestRetriever_UsesSnapshotEmbedder(t *testing.T) {
	e := hashing.NewEmbedder(0)
	built := buildIndex(t, e, papers)
	ix := index.New()
	require.NoError(t, ix.Publish(ix.Snapshot(), built.Snapshot().Records(), e))

	r := mustNew(t, downEmbedder{e}, ix)
	results, err := r.Retrieve(context.Background(), "macaque pose")
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	// without an attached embedder the configured one is used
	_, err = mustNew(t, downEmbedder{e}, built).Retrieve(context.Background(), "macaque pose")
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
}
