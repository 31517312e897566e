// Package sqlite persists the index as chunk rows and float64 vector BLOBs in
// a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"primate-rag/internal/domain"
	"primate-rag/internal/vectorstore"
	"primate-rag/internal/vectorstore/sqlite/migrations"
)

// DefaultFile is the database file name used when a directory is given.
const DefaultFile = "index.db"

// Store is a SQLite-backed domain.VectorStore.
type Store struct {
	db   *sql.DB
	path string
}

var _ domain.VectorStore = (*Store)(nil)

// NewStore opens (creating if needed) the database at path. A path without a
// file extension is treated as a directory holding DefaultFile. An empty path
// defaults to ~/.primate-rag/index.db.
func NewStore(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, ".primate-rag")
	}
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, DefaultFile)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies pending NNN_name.up.sql files in order and records each version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// Save replaces the stored index with dump in one transaction.
func (s *Store) Save(ctx context.Context, dump domain.Dump) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"vectors", "chunks", "index_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO index_meta (id, model, dimension, chunk_count) VALUES (1, ?, ?, ?)",
		dump.Model, dump.Dimension, len(dump.Records)); err != nil {
		return fmt.Errorf("writing index meta: %w", err)
	}

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (ordinal, chunk_id, document_id, section, chunk_index, word_count, title, year, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer chunkStmt.Close()
	vecStmt, err := tx.PrepareContext(ctx, "INSERT INTO vectors (ordinal, embedding) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("preparing vector insert: %w", err)
	}
	defer vecStmt.Close()

	for i, r := range dump.Records {
		c := r.Chunk
		if _, err := chunkStmt.ExecContext(ctx, i, c.ChunkID, c.DocumentID, c.Section, c.Index, c.WordCount, c.Title, c.Year, c.Text); err != nil {
			return fmt.Errorf("writing chunk %s: %w", c.ChunkID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, i, vectorstore.EncodeVector(r.Vector.Values)); err != nil {
			return fmt.Errorf("writing vector %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Load reads the stored index. A store that was never saved yields an empty
// dump. Inconsistent contents fail with domain.ErrCorruptStore.
func (s *Store) Load(ctx context.Context) (domain.Dump, error) {
	var dump domain.Dump
	var expected int
	err := s.db.QueryRowContext(ctx, "SELECT model, dimension, chunk_count FROM index_meta WHERE id = 1").
		Scan(&dump.Model, &dump.Dimension, &expected)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dump{}, s.checkEmpty(ctx)
	}
	if err != nil {
		return domain.Dump{}, fmt.Errorf("reading index meta: %w", err)
	}

	var chunks, vectors int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&chunks); err != nil {
		return domain.Dump{}, fmt.Errorf("counting chunks: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&vectors); err != nil {
		return domain.Dump{}, fmt.Errorf("counting vectors: %w", err)
	}
	if err := vectorstore.CheckCounts(chunks, vectors); err != nil {
		return domain.Dump{}, err
	}
	if chunks != expected {
		return domain.Dump{}, vectorstore.Corrupt("meta records %d chunks, found %d", expected, chunks)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.document_id, c.section, c.chunk_index, c.word_count, c.title, c.year, c.text, v.embedding
		FROM chunks c LEFT JOIN vectors v ON v.ordinal = c.ordinal
		ORDER BY c.ordinal`)
	if err != nil {
		return domain.Dump{}, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	dump.Records = make([]domain.Record, 0, chunks)
	for rows.Next() {
		var r domain.Record
		var blob []byte
		c := &r.Chunk
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.Section, &c.Index, &c.WordCount, &c.Title, &c.Year, &c.Text, &blob); err != nil {
			return domain.Dump{}, fmt.Errorf("scanning chunk: %w", err)
		}
		if blob == nil {
			return domain.Dump{}, vectorstore.Corrupt("chunk %q has no vector", c.ChunkID)
		}
		values, err := vectorstore.DecodeVector(blob)
		if err != nil {
			return domain.Dump{}, fmt.Errorf("chunk %s: %w", c.ChunkID, err)
		}
		r.Vector = domain.Vector{Values: values, Model: dump.Model}
		dump.Records = append(dump.Records, r)
	}
	if err := rows.Err(); err != nil {
		return domain.Dump{}, fmt.Errorf("iterating chunks: %w", err)
	}
	if err := vectorstore.Validate(dump); err != nil {
		return domain.Dump{}, err
	}
	return dump, nil
}

// checkEmpty guards against rows left without their meta record.
func (s *Store) checkEmpty(ctx context.Context) error {
	var chunks, vectors int
	if err := s.db.QueryRowContext(ctx, "SELECT (SELECT COUNT(*) FROM chunks), (SELECT COUNT(*) FROM vectors)").Scan(&chunks, &vectors); err != nil {
		return fmt.Errorf("counting rows: %w", err)
	}
	if chunks > 0 || vectors > 0 {
		return vectorstore.Corrupt("%d chunks and %d vectors without index meta", chunks, vectors)
	}
	return nil
}
