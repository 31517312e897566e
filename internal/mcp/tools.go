package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"primate-rag/internal/answerer"
	"primate-rag/internal/domain"
)

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question string `json:"question" jsonschema:"a question about machine learning research on non-human primates"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer    string              `json:"answer"`
	Citations []answerer.Citation `json:"citations"`
	// Degraded is set when the language model failed and only the
	// retrieved excerpts are returned.
	Degraded bool            `json:"degraded,omitempty"`
	Excerpts []ExcerptOutput `json:"excerpts,omitempty"`
}

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of excerpts to return (default 10)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []ExcerptOutput `json:"results"`
	Count   int             `json:"count"`
}

// ExcerptOutput is one retrieved chunk.
type ExcerptOutput struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Year       int     `json:"year,omitempty"`
	Section    string  `json:"section"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

func excerpts(results []domain.SearchResult) []ExcerptOutput {
	out := make([]ExcerptOutput, len(results))
	for i, r := range results {
		out[i] = ExcerptOutput{
			DocumentID: r.Chunk.DocumentID,
			Title:      r.Chunk.Title,
			Year:       r.Chunk.Year,
			Section:    r.Chunk.Section,
			Score:      r.Score,
			Text:       r.Chunk.Text,
		}
	}
	return out
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question from the primatology paper collection, with citations",
	}, s.handleAsk)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Find the paper excerpts most similar to a query",
	}, s.handleSearch)
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	ans, err := s.pipeline.Ask(ctx, input.Question, nil)
	var upErr *answerer.UpstreamError
	if errors.As(err, &upErr) {
		return nil, AskOutput{Citations: upErr.Citations, Degraded: true, Excerpts: excerpts(upErr.Sources)}, nil
	}
	if err != nil {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{Answer: ans.Text, Citations: ans.Citations}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.pipeline.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, SearchOutput{Results: excerpts(results), Count: len(results)}, nil
}

func (s *Server) handlePapersResource(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	type paperInfo struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Year    int    `json:"year,omitempty"`
		Species string `json:"species,omitempty"`
		HasCode bool   `json:"has_code"`
	}
	docs := s.pipeline.Papers()
	infos := make([]paperInfo, len(docs))
	for i, d := range docs {
		infos[i] = paperInfo{ID: d.ID, Title: d.Title, Year: d.Year, Species: d.Species, HasCode: d.HasCode}
	}
	data, err := json.Marshal(infos)
	if err != nil {
		return nil, fmt.Errorf("encoding papers: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}
