// Package qdrant persists the index as a Qdrant collection over the REST API.
// Qdrant keeps float32 copies for its own search; the exact float64 values and
// the chunk fields travel in each point's payload.
package qdrant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"primate-rag/internal/domain"
	"primate-rag/internal/vectorstore"
)

const (
	defaultTimeout = 15 * time.Second
	batchSize      = 256
)

// errNoCollection marks a 404 from the collection endpoints.
var errNoCollection = errors.New("collection does not exist")

// Storage is a minimal REST client to Qdrant. Each Save recreates the
// collection with cosine distance.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

var _ domain.VectorStore = (*Storage)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "primate_papers"
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type payload struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
	Section    string `json:"section"`
	Index      int    `json:"index"`
	WordCount  int    `json:"word_count"`
	Title      string `json:"title,omitempty"`
	Year       int    `json:"year,omitempty"`
	Text       string `json:"text"`
	Model      string `json:"model"`
	Ordinal    int    `json:"ordinal"`
	Total      int    `json:"total"`
	Values     string `json:"values"`
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector,omitempty"`
	Payload *payload  `json:"payload"`
}

// PointID derives a stable Qdrant point id from a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("primate-rag:"+chunkID)).String()
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// Save drops the collection and writes dump into a fresh one.
func (s *Storage) Save(ctx context.Context, dump domain.Dump) error {
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil); err != nil && !errors.Is(err, errNoCollection) {
		return fmt.Errorf("dropping collection: %w", err)
	}
	if len(dump.Records) == 0 {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dump.Dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	total := len(dump.Records)
	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)
		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			r := dump.Records[i]
			c := r.Chunk
			vec := make([]float32, len(r.Vector.Values))
			for j, v := range r.Vector.Values {
				vec[j] = float32(v)
			}
			points = append(points, point{
				ID:     PointID(c.ChunkID),
				Vector: vec,
				Payload: &payload{
					DocumentID: c.DocumentID, ChunkID: c.ChunkID, Section: c.Section, Index: c.Index,
					WordCount: c.WordCount, Title: c.Title, Year: c.Year, Text: c.Text,
					Model:   dump.Model,
					Ordinal: i,
					Total:   total,
					Values:  base64.StdEncoding.EncodeToString(vectorstore.EncodeVector(r.Vector.Values)),
				},
			})
		}
		if err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", map[string]any{"points": points}, nil); err != nil {
			return fmt.Errorf("upserting points %d-%d: %w", start, end, err)
		}
	}
	return nil
}

// Load scrolls every point and restores save order. A missing collection
// yields an empty dump.
func (s *Storage) Load(ctx context.Context) (domain.Dump, error) {
	var collected []payload
	var offset any
	for {
		req := map[string]any{
			"limit":        batchSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					ID      any      `json:"id"`
					Payload *payload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/scroll", req, &resp)
		if errors.Is(err, errNoCollection) {
			return domain.Dump{}, nil
		}
		if err != nil {
			return domain.Dump{}, fmt.Errorf("scrolling points: %w", err)
		}
		for _, p := range resp.Result.Points {
			if p.Payload == nil {
				return domain.Dump{}, vectorstore.Corrupt("point %v has no payload", p.ID)
			}
			collected = append(collected, *p.Payload)
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	if len(collected) == 0 {
		return domain.Dump{Records: []domain.Record{}}, nil
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Ordinal < collected[j].Ordinal })
	total := collected[0].Total
	if err := vectorstore.CheckCounts(total, len(collected)); err != nil {
		return domain.Dump{}, err
	}
	dump := domain.Dump{Model: collected[0].Model, Records: make([]domain.Record, len(collected))}
	for i, p := range collected {
		if p.Ordinal != i || p.Total != total {
			return domain.Dump{}, vectorstore.Corrupt("point %q has ordinal %d of %d at position %d", p.ChunkID, p.Ordinal, p.Total, i)
		}
		raw, err := base64.StdEncoding.DecodeString(p.Values)
		if err != nil {
			return domain.Dump{}, vectorstore.Corrupt("point %q: decoding values: %v", p.ChunkID, err)
		}
		values, err := vectorstore.DecodeVector(raw)
		if err != nil {
			return domain.Dump{}, err
		}
		if i == 0 {
			dump.Dimension = len(values)
		}
		dump.Records[i] = domain.Record{
			Chunk: domain.Chunk{
				DocumentID: p.DocumentID, ChunkID: p.ChunkID, Section: p.Section, Text: p.Text,
				Index: p.Index, WordCount: p.WordCount, Title: p.Title, Year: p.Year,
			},
			Vector: domain.Vector{Values: values, Model: p.Model},
		}
	}
	if err := vectorstore.Validate(dump); err != nil {
		return domain.Dump{}, err
	}
	return dump, nil
}

// Close releases idle connections.
func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNoCollection)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
