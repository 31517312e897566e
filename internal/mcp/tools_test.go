package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
)

var macaque = domain.SearchResult{
	Chunk: domain.Chunk{DocumentID: "paper_1", Title: "MacaquePose", Year: 2021, Section: "methods", Text: "We use a ResNet-50 backbone."},
	Score: 0.7,
}

type fakePipeline struct {
	answer answerer.Answer
	err    error
	k      int
}

func (f *fakePipeline) Ask(context.Context, string, []domain.Message) (answerer.Answer, error) {
	return f.answer, f.err
}

func (f *fakePipeline) Search(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	f.k = k
	return []domain.SearchResult{macaque}, f.err
}

func (f *fakePipeline) Papers() []domain.Document {
	return []domain.Document{{ID: "paper_1", Title: "MacaquePose", Year: 2021, HasCode: true}}
}

func newServer(t *testing.T, p *fakePipeline) *Server {
	t.Helper()
	s, err := NewServer(p)
	require.NoError(t, err)
	return s
}

func TestNewServer_RequiresPipeline(t *testing.T) {
	_, err := NewServer(nil)
	assert.Error(t, err)
}

func TestHandleAsk(t *testing.T) {
	p := &fakePipeline{answer: answerer.Answer{Text: "ResNet-50.", Citations: answerer.Citations([]domain.SearchResult{macaque})}}
	_, out, err := newServer(t, p).handleAsk(context.Background(), nil, AskInput{Question: "What backbone?"})
	require.NoError(t, err)
	assert.Equal(t, "ResNet-50.", out.Answer)
	require.Len(t, out.Citations, 1)
	assert.False(t, out.Degraded)
}

func TestHandleAsk_DegradesToExcerpts(t *testing.T) {
	p := &fakePipeline{err: &answerer.UpstreamError{Err: errors.New("timeout"), Sources: []domain.SearchResult{macaque}}}
	_, out, err := newServer(t, p).handleAsk(context.Background(), nil, AskInput{Question: "What backbone?"})
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	require.Len(t, out.Excerpts, 1)
	assert.Equal(t, "We use a ResNet-50 backbone.", out.Excerpts[0].Text)
}

func TestHandleAsk_OtherErrors(t *testing.T) {
	p := &fakePipeline{err: domain.ErrInvalidInput}
	_, _, err := newServer(t, p).handleAsk(context.Background(), nil, AskInput{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHandleSearch(t *testing.T) {
	p := &fakePipeline{}
	_, out, err := newServer(t, p).handleSearch(context.Background(), nil, SearchInput{Query: "macaque", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, p.k)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "methods", out.Results[0].Section)
}

func TestPapersResource(t *testing.T) {
	s := newServer(t, &fakePipeline{})
	res, err := s.handlePapersResource(context.Background(), &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{URI: papersURI},
	})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	var papers []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &papers))
	require.Len(t, papers, 1)
	assert.Equal(t, "MacaquePose", papers[0]["title"])
}
