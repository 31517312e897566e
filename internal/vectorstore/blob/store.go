// Package blob persists the index as a chunk list (JSON) and a packed vector
// file in a Bucket, on local disk or S3. A manifest written last makes each
// save visible all at once.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"

	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
	"primate-rag/internal/vectorstore"
)

const manifestKey = "manifest.json"

type manifest struct {
	Generation string    `json:"generation"`
	Model      string    `json:"model"`
	Dimension  int       `json:"dimension"`
	Count      int       `json:"count"`
	SavedAt    time.Time `json:"saved_at"`
}

type storedChunk struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Section    string `json:"section"`
	Index      int    `json:"index"`
	WordCount  int    `json:"word_count"`
	Title      string `json:"title,omitempty"`
	Year       int    `json:"year,omitempty"`
	Text       string `json:"text"`
}

// Store is a domain.VectorStore over a Bucket.
type Store struct {
	bucket Bucket
	prefix string
}

var _ domain.VectorStore = (*Store)(nil)

// NewStore stores objects under prefix in bucket.
func NewStore(bucket Bucket, prefix string) *Store {
	return &Store{bucket: bucket, prefix: prefix}
}

func (s *Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

func chunksName(gen string) string  { return "chunks-" + gen + ".json" }
func vectorsName(gen string) string { return "vectors-" + gen + ".bin" }

// Save writes a new generation and then points the manifest at it. The
// previous generation is removed afterwards.
func (s *Store) Save(ctx context.Context, dump domain.Dump) error {
	prev, err := s.manifest(ctx)
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrCorruptStore) {
		return err
	}

	m := manifest{
		Generation: uuid.NewString(),
		Model:      dump.Model,
		Dimension:  dump.Dimension,
		Count:      len(dump.Records),
		SavedAt:    time.Now().UTC(),
	}
	chunks := make([]storedChunk, len(dump.Records))
	vectors := make([]byte, 0, len(dump.Records)*dump.Dimension*8)
	for i, r := range dump.Records {
		c := r.Chunk
		chunks[i] = storedChunk{
			ChunkID: c.ChunkID, DocumentID: c.DocumentID, Section: c.Section,
			Index: c.Index, WordCount: c.WordCount, Title: c.Title, Year: c.Year, Text: c.Text,
		}
		if len(r.Vector.Values) != dump.Dimension {
			return fmt.Errorf("save %s: %w: %d values, dump has %d", c.ChunkID, domain.ErrDimensionMismatch, len(r.Vector.Values), dump.Dimension)
		}
		vectors = append(vectors, vectorstore.EncodeVector(r.Vector.Values)...)
	}
	chunkData, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := s.bucket.Put(ctx, s.key(chunksName(m.Generation)), chunkData); err != nil {
		return fmt.Errorf("writing chunks: %w", err)
	}
	if err := s.bucket.Put(ctx, s.key(vectorsName(m.Generation)), vectors); err != nil {
		return fmt.Errorf("writing vectors: %w", err)
	}
	if err := s.bucket.Put(ctx, s.key(manifestKey), manifestData); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if prev.Generation != "" {
		for _, name := range []string{chunksName(prev.Generation), vectorsName(prev.Generation)} {
			if err := s.bucket.Delete(ctx, s.key(name)); err != nil {
				logger.Warn("blob store: removing stale %s: %v", name, err)
			}
		}
	}
	return nil
}

// Load reads the generation named by the manifest. A bucket without a
// manifest yields an empty dump.
func (s *Store) Load(ctx context.Context) (domain.Dump, error) {
	m, err := s.manifest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Dump{}, nil
	}
	if err != nil {
		return domain.Dump{}, err
	}

	chunkData, err := s.bucket.Get(ctx, s.key(chunksName(m.Generation)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Dump{}, vectorstore.Corrupt("manifest names missing chunk file %s", chunksName(m.Generation))
		}
		return domain.Dump{}, fmt.Errorf("reading chunks: %w", err)
	}
	vectorData, err := s.bucket.Get(ctx, s.key(vectorsName(m.Generation)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Dump{}, vectorstore.Corrupt("manifest names missing vector file %s", vectorsName(m.Generation))
		}
		return domain.Dump{}, fmt.Errorf("reading vectors: %w", err)
	}

	var chunks []storedChunk
	if err := json.Unmarshal(chunkData, &chunks); err != nil {
		return domain.Dump{}, vectorstore.Corrupt("decoding chunks: %v", err)
	}
	values, err := vectorstore.DecodeVector(vectorData)
	if err != nil {
		return domain.Dump{}, err
	}
	if m.Count != len(chunks) {
		return domain.Dump{}, vectorstore.Corrupt("manifest records %d chunks, found %d", m.Count, len(chunks))
	}
	if len(chunks) == 0 {
		if len(values) != 0 {
			return domain.Dump{}, vectorstore.Corrupt("%d vector values without chunks", len(values))
		}
		return domain.Dump{Model: m.Model, Dimension: m.Dimension, Records: []domain.Record{}}, nil
	}
	if m.Dimension <= 0 || len(values)%m.Dimension != 0 {
		return domain.Dump{}, vectorstore.Corrupt("%d vector values do not divide into dimension %d", len(values), m.Dimension)
	}
	if err := vectorstore.CheckCounts(len(chunks), len(values)/m.Dimension); err != nil {
		return domain.Dump{}, err
	}

	dump := domain.Dump{Model: m.Model, Dimension: m.Dimension, Records: make([]domain.Record, len(chunks))}
	for i, c := range chunks {
		dump.Records[i] = domain.Record{
			Chunk: domain.Chunk{
				DocumentID: c.DocumentID, ChunkID: c.ChunkID, Section: c.Section, Text: c.Text,
				Index: c.Index, WordCount: c.WordCount, Title: c.Title, Year: c.Year,
			},
			Vector: domain.Vector{Values: values[i*m.Dimension : (i+1)*m.Dimension : (i+1)*m.Dimension], Model: m.Model},
		}
	}
	if err := vectorstore.Validate(dump); err != nil {
		return domain.Dump{}, err
	}
	return dump, nil
}

// Close is a no-op; buckets hold no open handles.
func (s *Store) Close() error { return nil }

func (s *Store) manifest(ctx context.Context) (manifest, error) {
	data, err := s.bucket.Get(ctx, s.key(manifestKey))
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return manifest{}, vectorstore.Corrupt("decoding manifest: %v", err)
	}
	if m.Generation == "" {
		return manifest{}, vectorstore.Corrupt("manifest has no generation")
	}
	return m, nil
}
