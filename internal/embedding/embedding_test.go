package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/domain"
)

type countingEmbedder struct {
	calls atomic.Int32
	fail  bool
}

func (e *countingEmbedder) Name() string           { return "counting" }
func (e *countingEmbedder) ModelVersion() string   { return "counting:v1" }
func (e *countingEmbedder) Prepare([]string) error { return nil }
func (e *countingEmbedder) Dimension() int         { return 2 }

func (e *countingEmbedder) Embed(_ context.Context, text string) (domain.Vector, error) {
	e.calls.Add(1)
	if e.fail {
		return domain.Vector{}, domain.Upstream("counting", errors.New("boom"))
	}
	return domain.Vector{Values: []float64{float64(len(text)), 1}, Model: e.ModelVersion()}, nil
}

func TestCheckInput(t *testing.T) {
	got, err := CheckInput("  macaque  ")
	require.NoError(t, err)
	assert.Equal(t, "macaque", got)

	for _, in := range []string{"", "   ", "\n\t"} {
		_, err := CheckInput(in)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
}

func TestChunkText(t *testing.T) {
	c := domain.Chunk{Title: "MacaquePose", Section: "methods", Text: "ResNet-50 backbone."}
	assert.Equal(t, "Title: MacaquePose\nSection: methods\n\nResNet-50 backbone.", ChunkText(c))
	assert.Equal(t, "plain", ChunkText(domain.Chunk{Text: "plain"}))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"resnet-50", "backbone", "macaque", "pose"}, Tokens("The ResNet-50 backbone for macaque pose?"))
	assert.True(t, IsStopword("what"))
	assert.False(t, IsStopword("lemur"))
}

func TestNormalize(t *testing.T) {
	v := []float64{3, 4}
	Normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-12)
	assert.InDelta(t, 0.8, v[1], 1e-12)

	zero := []float64{0, 0}
	Normalize(zero)
	assert.Equal(t, []float64{0, 0}, zero)
}

func TestCached(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 2)
	ctx := context.Background()

	v1, err := c.Embed(ctx, "Macaque pose")
	require.NoError(t, err)
	v2, err := c.Embed(ctx, "  macaque POSE ")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())

	// returned vectors are copies
	v2.Values[0] = -1
	v3, err := c.Embed(ctx, "macaque pose")
	require.NoError(t, err)
	assert.NotEqual(t, -1.0, v3.Values[0])

	_, _ = c.Embed(ctx, "lemur")
	_, _ = c.Embed(ctx, "gorilla")
	assert.Equal(t, 2, c.Len())

	// evicted entry is recomputed
	_, _ = c.Embed(ctx, "macaque pose")
	assert.Equal(t, int32(4), inner.calls.Load())

	require.NoError(t, c.Prepare(nil))
	assert.Equal(t, 0, c.Len())
}

func TestCached_ErrorsNotCached(t *testing.T) {
	inner := &countingEmbedder{fail: true}
	c := NewCached(inner, 10)

	_, err := c.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	_, err = c.Embed(context.Background(), "q")
	assert.Error(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

// switchingEmbedder moves to the next model version while it embeds, as a
// concurrent Prepare would.
type switchingEmbedder struct {
	countingEmbedder
	version atomic.Value
}

func (e *switchingEmbedder) ModelVersion() string { return e.version.Load().(string) }

func (e *switchingEmbedder) Embed(_ context.Context, text string) (domain.Vector, error) {
	e.calls.Add(1)
	e.version.Store("counting:v2")
	return domain.Vector{Values: []float64{float64(len(text)), 1}, Model: "counting:v2"}, nil
}

func TestCached_VersionChangedDuringEmbed(t *testing.T) {
	inner := &switchingEmbedder{}
	inner.version.Store("counting:v1")
	c := NewCached(inner, 10)

	v, err := c.Embed(context.Background(), "macaque pose")
	require.NoError(t, err)
	assert.Equal(t, "counting:v2", v.Model)
	assert.Equal(t, 0, c.Len())

	// back on the first version the query is embedded again, not served stale
	inner.version.Store("counting:v1")
	_, err = c.Embed(context.Background(), "macaque pose")
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
}
