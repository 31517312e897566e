// Package index is the in-memory vector index. It publishes immutable
// snapshots through an atomic pointer: searches never lock, and inserts and
// rebuilds swap in a complete new snapshot.
package index

import (
	"fmt"
	"sync/atomic"

	"primate-rag/internal/domain"
	"primate-rag/internal/logger"
)

// Index holds the current snapshot of all chunk and vector records.
type Index struct {
	current atomic.Pointer[Snapshot]
}

// New creates an empty index.
func New() *Index {
	ix := &Index{}
	ix.current.Store(emptySnapshot())
	return ix
}

// Snapshot returns the current snapshot. It stays valid after later rebuilds.
func (ix *Index) Snapshot() *Snapshot {
	return ix.current.Load()
}

// Len returns the number of records in the current snapshot.
func (ix *Index) Len() int {
	return ix.Snapshot().Len()
}

// Insert adds one record. The first record establishes the index's model
// version and dimension; later mismatches fail with ErrVersionMismatch or
// ErrDimensionMismatch.
func (ix *Index) Insert(r domain.Record) error {
	for {
		cur := ix.current.Load()
		if err := cur.accepts(r.Vector); err != nil {
			return err
		}
		if ix.current.CompareAndSwap(cur, cur.with(r)) {
			return nil
		}
	}
}

// Rebuild atomically replaces the whole record set, keeping the query
// embedder of the snapshot it replaces. Searches already running finish
// against the previous snapshot.
func (ix *Index) Rebuild(records []domain.Record) error {
	next, err := build(records)
	if err != nil {
		return err
	}
	for {
		prev := ix.current.Load()
		next.queries = prev.queries
		if ix.current.CompareAndSwap(prev, next) {
			logger.Debug("index: snapshot %s (%d records) replaced %s (%d records)", next.ID(), next.Len(), prev.ID(), prev.Len())
			return nil
		}
	}
}

// Publish replaces base with a snapshot of records whose queries must be
// embedded by queries. It fails with ErrConflict when base is no longer
// current, and leaves the index unchanged on any error.
func (ix *Index) Publish(base *Snapshot, records []domain.Record, queries domain.Embedder) error {
	next, err := build(records)
	if err != nil {
		return err
	}
	next.queries = queries
	if !ix.current.CompareAndSwap(base, next) {
		return fmt.Errorf("publish: %w: snapshot %s was replaced", domain.ErrConflict, base.ID())
	}
	logger.Debug("index: snapshot %s (%d records) replaced %s (%d records)", next.ID(), next.Len(), base.ID(), base.Len())
	return nil
}

// Search returns the k records most similar to q in the current snapshot.
func (ix *Index) Search(q domain.Vector, k int) ([]domain.SearchResult, error) {
	return ix.Snapshot().Search(q, k)
}

// SearchFunc is Search restricted to chunks accepted by keep.
func (ix *Index) SearchFunc(q domain.Vector, k int, keep func(domain.Chunk) bool) ([]domain.SearchResult, error) {
	return ix.Snapshot().SearchFunc(q, k, keep)
}
