package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/domain"
)

const model = "test:v1"

func record(id string, ordinal int, values ...float64) domain.Record {
	return domain.Record{
		Chunk:  domain.Chunk{DocumentID: "paper_1", ChunkID: id, Index: ordinal, Text: id},
		Vector: domain.Vector{Values: values, Model: model},
	}
}

func query(values ...float64) domain.Vector {
	return domain.Vector{Values: values, Model: model}
}

func ids(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.ChunkID
	}
	return out
}

func TestIndex_SearchRanksByCosine(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Rebuild([]domain.Record{
		record("a", 0, 1, 0, 0),
		record("b", 1, 0.9, 0.1, 0),
		record("c", 2, 0, 1, 0),
		record("d", 3, 0.5, 0.5, 0),
		record("e", 4, 0, 0, 1),
	}))

	results, err := ix.Search(query(1, 0, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "d"}, ids(results))
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestIndex_KClampedToSize(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert(record("a", 0, 1, 0)))
	require.NoError(t, ix.Insert(record("b", 1, 0, 1)))

	results, err := ix.Search(query(1, 1), 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = ix.Search(query(1, 1), 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestIndex_EmptyReturnsNothing(t *testing.T) {
	results, err := New().Search(query(1, 2, 3), 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndex_ZeroVectorScoresZero(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Rebuild([]domain.Record{
		record("zero", 0, 0, 0),
		record("x", 1, 1, 0),
	}))

	results, err := ix.Search(query(0, 0), 2)
	require.NoError(t, err)
	for _, r := range results {
		assert.Zero(t, r.Score)
	}

	results, err = ix.Search(query(1, 0), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "zero"}, ids(results))
	assert.Zero(t, results[1].Score)
}

func TestIndex_TiesPreferLowerOrdinal(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Rebuild([]domain.Record{
		record("late", 7, 1, 0),
		record("early", 2, 1, 0),
		record("mid", 4, 1, 0),
	}))
	results, err := ix.Search(query(2, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "mid", "late"}, ids(results))
}

func TestIndex_RejectsMismatchedVectors(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert(record("a", 0, 1, 0, 0)))

	err := ix.Insert(record("short", 1, 1, 0))
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))

	other := record("other", 1, 1, 0, 0)
	other.Vector.Model = "test:v2"
	err = ix.Insert(other)
	assert.True(t, errors.Is(err, domain.ErrVersionMismatch))

	_, err = ix.Search(query(1, 0), 1)
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))

	_, err = ix.Search(domain.Vector{Values: []float64{1, 0, 0}, Model: "test:v2"}, 1)
	assert.True(t, errors.Is(err, domain.ErrVersionMismatch))

	assert.Equal(t, 1, ix.Len())
}

func TestIndex_RebuildValidatesBeforeSwap(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Rebuild([]domain.Record{record("a", 0, 1, 0)}))
	before := ix.Snapshot().ID()

	err := ix.Rebuild([]domain.Record{record("b", 0, 1, 0), record("c", 1, 1, 0, 0)})
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))

	err = ix.Rebuild([]domain.Record{record("b", 0, 1, 0), record("b", 1, 0, 1)})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	assert.Equal(t, before, ix.Snapshot().ID())
	assert.Equal(t, 1, ix.Len())
}

func TestIndex_SearchFuncFilters(t *testing.T) {
	ix := New()
	a := record("a", 0, 1, 0)
	b := record("b", 0, 1, 0)
	b.Chunk.DocumentID = "paper_2"
	require.NoError(t, ix.Rebuild([]domain.Record{a, b}))

	results, err := ix.SearchFunc(query(1, 0), 5, func(c domain.Chunk) bool { return c.DocumentID == "paper_2" })
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(results))
}

func TestIndex_SnapshotUnaffectedByLaterWrites(t *testing.T) {
	ix := New()
	require.NoError(t, ix.Insert(record("a", 0, 1, 0)))
	snap := ix.Snapshot()

	require.NoError(t, ix.Insert(record("b", 1, 0, 1)))
	require.NoError(t, ix.Rebuild(nil))

	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, 0, ix.Len())
	dump := snap.Dump()
	assert.Equal(t, model, dump.Model)
	assert.Equal(t, 2, dump.Dimension)
	require.Len(t, dump.Records, 1)
	assert.Equal(t, "a", dump.Records[0].Chunk.ChunkID)
}

func TestIndex_RebuildCopiesInput(t *testing.T) {
	in := []domain.Record{record("a", 0, 1, 0)}
	ix := New()
	require.NoError(t, ix.Rebuild(in))
	in[0].Vector.Values[0] = 0
	in[0].Chunk.ChunkID = "mutated"

	results, err := ix.Search(query(1, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, "a", results[0].Chunk.ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

// Searches running during a rebuild see either the old or the new snapshot,
// never a mix.
func TestIndex_ConcurrentRebuildAndSearch(t *testing.T) {
	oldSet := make([]domain.Record, 50)
	newSet := make([]domain.Record, 80)
	for i := range oldSet {
		oldSet[i] = record(fmt.Sprintf("old_%03d", i), i, 1, float64(i))
	}
	for i := range newSet {
		newSet[i] = record(fmt.Sprintf("new_%03d", i), i, float64(i), 1)
	}
	ix := New()
	require.NoError(t, ix.Rebuild(oldSet))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				results, err := ix.Search(query(1, 1), 100)
				if err != nil {
					errs <- err
					return
				}
				if len(results) != 50 && len(results) != 80 {
					errs <- fmt.Errorf("unexpected result size %d", len(results))
					return
				}
				prefix := results[0].Chunk.ChunkID[:4]
				for _, r := range results {
					if r.Chunk.ChunkID[:4] != prefix {
						errs <- fmt.Errorf("mixed snapshot: %s and %s", prefix, r.Chunk.ChunkID)
						return
					}
				}
			}
		}()
	}
	for n := 0; n < 20; n++ {
		set := oldSet
		if n%2 == 0 {
			set = newSet
		}
		require.NoError(t, ix.Rebuild(set))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, 50, ix.Len())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Zero(t, Cosine([]float64{0, 0}, []float64{1, 1}))
}

// stubEmbedder is a query embedder identified by its version.
type stubEmbedder struct{ version string }

func (e stubEmbedder) Name() string           { return "stub" }
func (e stubEmbedder) ModelVersion() string   { return e.version }
func (e stubEmbedder) Prepare([]string) error { return nil }
func (e stubEmbedder) Dimension() int         { return 2 }
func (e stubEmbedder) Embed(context.Context, string) (domain.Vector, error) {
	return domain.Vector{Values: []float64{1, 0}, Model: e.version}, nil
}

func TestIndex_PublishAttachesEmbedder(t *testing.T) {
	ix := New()
	base := ix.Snapshot()
	assert.Nil(t, base.Embedder())

	e := stubEmbedder{version: model}
	require.NoError(t, ix.Publish(base, []domain.Record{record("a", 0, 1, 0)}, e))
	assert.Equal(t, e, ix.Snapshot().Embedder())

	// rebuilds and inserts keep the query embedder
	require.NoError(t, ix.Rebuild([]domain.Record{record("b", 0, 0, 1)}))
	assert.Equal(t, e, ix.Snapshot().Embedder())
	require.NoError(t, ix.Insert(record("c", 1, 1, 1)))
	assert.Equal(t, e, ix.Snapshot().Embedder())
}

func TestIndex_PublishRejectsStaleBase(t *testing.T) {
	ix := New()
	base := ix.Snapshot()
	require.NoError(t, ix.Rebuild([]domain.Record{record("a", 0, 1, 0)}))
	current := ix.Snapshot()

	err := ix.Publish(base, []domain.Record{record("b", 0, 0, 1)}, nil)
	assert.True(t, errors.Is(err, domain.ErrConflict))
	assert.Same(t, current, ix.Snapshot())

	err = ix.Publish(current, []domain.Record{record("x", 0, 1, 0), record("x", 1, 0, 1)}, nil)
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	assert.Same(t, current, ix.Snapshot())
}
