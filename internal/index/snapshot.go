package index

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"primate-rag/internal/domain"
)

// Snapshot is an immutable, point-in-time view of the index. Readers may
// hold one for as long as they like; rebuilds never modify it.
type Snapshot struct {
	id        string
	model     string
	dimension int
	records   []domain.Record
	norms     []float64
	builtAt   time.Time
	queries   domain.Embedder
}

func emptySnapshot() *Snapshot {
	return &Snapshot{id: uuid.NewString(), builtAt: time.Now()}
}

// build validates records and creates a snapshot owning copies of them.
func build(records []domain.Record) (*Snapshot, error) {
	s := emptySnapshot()
	if len(records) == 0 {
		return s, nil
	}
	s.records = make([]domain.Record, 0, len(records))
	s.norms = make([]float64, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, dup := seen[r.Chunk.ChunkID]; dup {
			return nil, fmt.Errorf("rebuild: %w: duplicate chunk id %q", domain.ErrInvalidInput, r.Chunk.ChunkID)
		}
		seen[r.Chunk.ChunkID] = struct{}{}
		if err := s.accepts(r.Vector); err != nil {
			return nil, fmt.Errorf("rebuild %s: %w", r.Chunk.ChunkID, err)
		}
		if len(s.records) == 0 {
			s.model, s.dimension = r.Vector.Model, len(r.Vector.Values)
		}
		r.Vector.Values = slices.Clone(r.Vector.Values)
		s.records = append(s.records, r)
		s.norms = append(s.norms, norm(r.Vector.Values))
	}
	return s, nil
}

// accepts checks v against the snapshot's established model and dimension.
// An empty snapshot accepts any non-empty vector.
func (s *Snapshot) accepts(v domain.Vector) error {
	if len(v.Values) == 0 {
		return fmt.Errorf("%w: empty vector", domain.ErrInvalidInput)
	}
	if len(s.records) == 0 {
		return nil
	}
	if v.Model != s.model {
		return fmt.Errorf("%w: vector from %q, index built with %q", domain.ErrVersionMismatch, v.Model, s.model)
	}
	if len(v.Values) != s.dimension {
		return fmt.Errorf("%w: vector has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(v.Values), s.dimension)
	}
	return nil
}

// with returns a new snapshot extended by r. Snapshots never read past their
// own length, so the backing arrays can be shared with the receiver.
func (s *Snapshot) with(r domain.Record) *Snapshot {
	next := &Snapshot{
		id:        uuid.NewString(),
		model:     s.model,
		dimension: s.dimension,
		records:   append(s.records[:len(s.records):len(s.records)], r),
		norms:     append(s.norms[:len(s.norms):len(s.norms)], norm(r.Vector.Values)),
		builtAt:   time.Now(),
		queries:   s.queries,
	}
	if len(s.records) == 0 {
		next.model, next.dimension = r.Vector.Model, len(r.Vector.Values)
	}
	return next
}

// Embedder returns the embedder that produced this snapshot's vectors, or
// nil when none was attached. Queries against the snapshot must use it.
func (s *Snapshot) Embedder() domain.Embedder { return s.queries }

// ID identifies this snapshot.
func (s *Snapshot) ID() string { return s.id }

// Model returns the embedding model version shared by all vectors, or "" when empty.
func (s *Snapshot) Model() string { return s.model }

// Dimension returns the vector dimension, or 0 when empty.
func (s *Snapshot) Dimension() int { return s.dimension }

// Len returns the number of records.
func (s *Snapshot) Len() int { return len(s.records) }

// BuiltAt returns when the snapshot was published.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Records returns the records in ordinal order. The slice must not be modified.
func (s *Snapshot) Records() []domain.Record { return s.records[:len(s.records):len(s.records)] }

// Dump returns the persisted form of the snapshot.
func (s *Snapshot) Dump() domain.Dump {
	return domain.Dump{Model: s.model, Dimension: s.dimension, Records: slices.Clone(s.records)}
}

// Search returns the k records most similar to q.
func (s *Snapshot) Search(q domain.Vector, k int) ([]domain.SearchResult, error) {
	return s.SearchFunc(q, k, nil)
}

type scored struct {
	pos   int
	score float64
}

// SearchFunc is Search restricted to chunks for which keep returns true.
// Results are ordered by descending cosine similarity; ties go to the lower
// chunk ordinal, then to the earlier record. k larger than the candidate set
// is clamped. An empty snapshot yields no results and no error.
func (s *Snapshot) SearchFunc(q domain.Vector, k int, keep func(domain.Chunk) bool) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, fmt.Errorf("search: %w: k must be at least 1, got %d", domain.ErrInvalidInput, k)
	}
	if len(s.records) == 0 {
		return nil, nil
	}
	if q.Model != s.model {
		return nil, fmt.Errorf("search: %w: query from %q, index built with %q", domain.ErrVersionMismatch, q.Model, s.model)
	}
	if len(q.Values) != s.dimension {
		return nil, fmt.Errorf("search: %w: query has %d dimensions, index has %d", domain.ErrDimensionMismatch, len(q.Values), s.dimension)
	}

	qn := norm(q.Values)
	candidates := make([]scored, 0, len(s.records))
	for i := range s.records {
		if keep != nil && !keep(s.records[i].Chunk) {
			continue
		}
		candidates = append(candidates, scored{pos: i, score: cosine(q.Values, qn, s.records[i].Vector.Values, s.norms[i])})
	}
	sort.Slice(candidates, func(a, b int) bool {
		ca, cb := candidates[a], candidates[b]
		if ca.score != cb.score {
			return ca.score > cb.score
		}
		ia, ib := s.records[ca.pos].Chunk.Index, s.records[cb.pos].Chunk.Index
		if ia != ib {
			return ia < ib
		}
		return ca.pos < cb.pos
	})
	if k > len(candidates) {
		k = len(candidates)
	}
	results := make([]domain.SearchResult, k)
	for i := 0; i < k; i++ {
		c := candidates[i]
		results[i] = domain.SearchResult{Chunk: s.records[c.pos].Chunk, Score: c.score}
	}
	return results, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
func Cosine(a, b []float64) float64 {
	return cosine(a, norm(a), b, norm(b))
}

func cosine(a []float64, na float64, b []float64, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum / (na * nb)
}

func norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
