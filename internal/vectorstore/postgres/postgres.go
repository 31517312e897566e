// Package postgres persists the index in PostgreSQL through a pgx pool.
// Vectors are stored as double precision[] so values survive unchanged.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"primate-rag/internal/domain"
	"primate-rag/internal/vectorstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS rag_index_meta (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	model       TEXT NOT NULL,
	dimension   INTEGER NOT NULL,
	chunk_count INTEGER NOT NULL,
	saved_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS rag_chunks (
	ordinal     INTEGER PRIMARY KEY,
	chunk_id    TEXT NOT NULL UNIQUE,
	document_id TEXT NOT NULL,
	section     TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	word_count  INTEGER NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	year        INTEGER NOT NULL DEFAULT 0,
	text        TEXT NOT NULL,
	embedding   DOUBLE PRECISION[]
);`

// Store is a PostgreSQL-backed domain.VectorStore.
type Store struct {
	db *pgxpool.Pool
}

var _ domain.VectorStore = (*Store)(nil)

// Open connects to connString and ensures the schema exists.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Save replaces the stored index in one transaction.
func (s *Store) Save(ctx context.Context, dump domain.Dump) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM rag_chunks"); err != nil {
			return fmt.Errorf("clearing chunks: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM rag_index_meta"); err != nil {
			return fmt.Errorf("clearing index meta: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"INSERT INTO rag_index_meta (id, model, dimension, chunk_count) VALUES (1, $1, $2, $3)",
			dump.Model, dump.Dimension, len(dump.Records)); err != nil {
			return fmt.Errorf("writing index meta: %w", err)
		}
		columns := []string{"ordinal", "chunk_id", "document_id", "section", "chunk_index", "word_count", "title", "year", "text", "embedding"}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"rag_chunks"}, columns,
			pgx.CopyFromSlice(len(dump.Records), func(i int) ([]any, error) {
				r := dump.Records[i]
				c := r.Chunk
				return []any{i, c.ChunkID, c.DocumentID, c.Section, c.Index, c.WordCount, c.Title, c.Year, c.Text, r.Vector.Values}, nil
			}))
		if err != nil {
			return fmt.Errorf("copying chunks: %w", err)
		}
		return nil
	})
}

// Load reads the stored index. Missing meta with no rows yields an empty dump.
func (s *Store) Load(ctx context.Context) (domain.Dump, error) {
	var dump domain.Dump
	var expected int
	err := s.db.QueryRow(ctx, "SELECT model, dimension, chunk_count FROM rag_index_meta WHERE id = 1").
		Scan(&dump.Model, &dump.Dimension, &expected)
	if errors.Is(err, pgx.ErrNoRows) {
		expected = 0
	} else if err != nil {
		return domain.Dump{}, fmt.Errorf("reading index meta: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT chunk_id, document_id, section, chunk_index, word_count, title, year, text, embedding
		FROM rag_chunks ORDER BY ordinal`)
	if err != nil {
		return domain.Dump{}, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	dump.Records = make([]domain.Record, 0, expected)
	vectors := 0
	for rows.Next() {
		var r domain.Record
		c := &r.Chunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Section, &c.Index, &c.WordCount, &c.Title, &c.Year, &c.Text, &r.Vector.Values); err != nil {
			return domain.Dump{}, fmt.Errorf("scanning chunk: %w", err)
		}
		if r.Vector.Values != nil {
			vectors++
		}
		r.Vector.Model = dump.Model
		dump.Records = append(dump.Records, r)
	}
	if err := rows.Err(); err != nil {
		return domain.Dump{}, fmt.Errorf("iterating chunks: %w", err)
	}
	if err := vectorstore.CheckCounts(len(dump.Records), vectors); err != nil {
		return domain.Dump{}, err
	}
	if len(dump.Records) != expected {
		return domain.Dump{}, vectorstore.Corrupt("meta records %d chunks, found %d", expected, len(dump.Records))
	}
	if err := vectorstore.Validate(dump); err != nil {
		return domain.Dump{}, err
	}
	return dump, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
