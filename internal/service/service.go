// Package service wires segmentation, embedding, the index and the
// persisted store into the ingest and question-answering pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"primate-rag/internal/answerer"
	"primate-rag/internal/catalog"
	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
	"primate-rag/internal/index"
	"primate-rag/internal/logger"
	"primate-rag/internal/retriever"
	"primate-rag/internal/vectorstore"
)

// DefaultWorkers is the number of concurrent embedding calls during ingest.
const DefaultWorkers = 4

// Pipeline owns the index and serves questions against it.
type Pipeline struct {
	chunker    domain.Chunker
	embedder   domain.Embedder
	queries    *embedding.Cached
	store      domain.VectorStore
	generator  domain.Generator
	membership *catalog.Membership
	index      *index.Index
	retriever  *retriever.Retriever
	answerer   *answerer.Answerer

	workers       int
	cacheSize     int
	retrieverOpts []retriever.Option
	answererOpts  []answerer.Option

	// committing is held by the writer persisting and publishing a snapshot.
	committing atomic.Bool
	fatal      error
	fmu        sync.RWMutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets the ingest embedding concurrency.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMembership restricts answers to live catalog documents and enables
// statistics for questions about the collection.
func WithMembership(m *catalog.Membership) Option {
	return func(p *Pipeline) { p.membership = m }
}

// WithQueryCacheSize sets how many query embeddings are cached.
func WithQueryCacheSize(n int) Option {
	return func(p *Pipeline) { p.cacheSize = n }
}

// WithRetrieverOptions passes options to the retriever.
func WithRetrieverOptions(opts ...retriever.Option) Option {
	return func(p *Pipeline) { p.retrieverOpts = append(p.retrieverOpts, opts...) }
}

// WithAnswererOptions passes options to the answerer.
func WithAnswererOptions(opts ...answerer.Option) Option {
	return func(p *Pipeline) { p.answererOpts = append(p.answererOpts, opts...) }
}

// New assembles a pipeline. The index starts empty; call Load to restore it
// from the store.
func New(chunker domain.Chunker, embedder domain.Embedder, store domain.VectorStore, generator domain.Generator, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		generator: generator,
		index:     index.New(),
		workers:   DefaultWorkers,
		cacheSize: embedding.DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queries = embedding.NewCached(embedder, p.cacheSize)

	ropts := p.retrieverOpts
	if p.membership != nil {
		ropts = append([]retriever.Option{retriever.WithMembership(p.membership)}, ropts...)
	}
	r, err := retriever.New(p.queries, p.index, ropts...)
	if err != nil {
		return nil, err
	}
	p.retriever = r
	p.answerer = answerer.New(generator, append([]answerer.Option{answerer.WithStats(p.statsContext)}, p.answererOpts...)...)
	return p, nil
}

// Index returns the live index.
func (p *Pipeline) Index() *index.Index { return p.index }

// Generator returns the language model behind the answerer.
func (p *Pipeline) Generator() domain.Generator { return p.generator }

func (p *Pipeline) setFatal(err error) {
	p.fmu.Lock()
	defer p.fmu.Unlock()
	p.fatal = err
}

// ready returns the load failure that stops the pipeline from serving.
func (p *Pipeline) ready() error {
	p.fmu.RLock()
	defer p.fmu.RUnlock()
	if p.fatal != nil {
		return fmt.Errorf("refusing to serve: %w", p.fatal)
	}
	return nil
}

// Load restores the index from the store. A corrupt store is fatal: the
// pipeline refuses every later question until a successful Load or Ingest.
func (p *Pipeline) Load(ctx context.Context) error {
	logger.Section("Load")
	start := time.Now()
	base := p.index.Snapshot()
	dump, err := p.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCorruptStore) {
			logger.Error("store is corrupt: %v", err)
			p.setFatal(err)
		}
		return fmt.Errorf("load store: %w", err)
	}
	if err := vectorstore.Validate(dump); err != nil {
		logger.Error("store is corrupt: %v", err)
		p.setFatal(err)
		return fmt.Errorf("load store: %w", err)
	}
	if len(dump.Records) == 0 {
		logger.Info("store is empty")
		p.setFatal(nil)
		return nil
	}

	queries, err := p.prepare(corpus(dump.Records))
	if err != nil {
		return fmt.Errorf("prepare embedder: %w", err)
	}
	if v := queries.ModelVersion(); v != dump.Model {
		return fmt.Errorf("load store: %w: vectors were built with %q, embedder is %q", domain.ErrVersionMismatch, dump.Model, v)
	}
	release, err := p.claim()
	if err != nil {
		return err
	}
	defer release()
	if err := p.index.Publish(base, dump.Records, queries); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	p.setFatal(nil)
	logger.Info("loaded %d chunks (%s, %d dims) in %s", len(dump.Records), dump.Model, dump.Dimension, time.Since(start).Round(time.Millisecond))
	return nil
}

// prepare returns the query embedder for vectors built over corpus. A
// corpus-dependent embedder is forked and prepared on its own, so the one
// attached to the live snapshot keeps serving queries in the meantime.
func (p *Pipeline) prepare(corpus []string) (*embedding.Cached, error) {
	ce, ok := p.embedder.(domain.CorpusEmbedder)
	if !ok {
		if err := p.queries.Prepare(corpus); err != nil {
			return nil, err
		}
		return p.queries, nil
	}
	next := ce.Fork()
	if err := next.Prepare(corpus); err != nil {
		return nil, err
	}
	return embedding.NewCached(next, p.cacheSize), nil
}

// claim marks the pipeline as committing a write. It never waits: while
// another writer is committing it fails with ErrConflict.
func (p *Pipeline) claim() (release func(), err error) {
	if !p.committing.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: another write is being committed", domain.ErrConflict)
	}
	return func() { p.committing.Store(false) }, nil
}

// commit persists dump and publishes it in place of base. Nothing is
// written when base is no longer the live snapshot, so the store and the
// index never diverge.
func (p *Pipeline) commit(ctx context.Context, base *index.Snapshot, dump domain.Dump, queries domain.Embedder) error {
	release, err := p.claim()
	if err != nil {
		return err
	}
	defer release()
	if p.index.Snapshot() != base {
		return fmt.Errorf("%w: index changed while this write was prepared", domain.ErrConflict)
	}
	if err := p.store.Save(ctx, dump); err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	if err := p.index.Publish(base, dump.Records, queries); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return nil
}

// Search returns up to k chunks for question; k < 1 uses the configured
// default. A query that matches nothing by embedding falls back to word
// overlap.
func (p *Pipeline) Search(ctx context.Context, question string, k int) ([]domain.SearchResult, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	if k < 1 {
		k = p.retriever.TopK()
	}
	results, err := p.retriever.RetrieveK(ctx, question, k)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 && allZero(results) {
		logger.Debug("search: no embedding overlap, using lexical ranking")
		return p.lexicalSearch(question, k), nil
	}
	return results, nil
}

// Ask retrieves evidence for question and generates an answer. When the
// language model fails the error is an *answerer.UpstreamError holding the
// retrieved chunks.
func (p *Pipeline) Ask(ctx context.Context, question string, history []domain.Message) (answerer.Answer, error) {
	logger.Section("Ask")
	results, err := p.Search(ctx, question, 0)
	if err != nil {
		return answerer.Answer{}, err
	}
	return p.answerer.Answer(ctx, question, results, history)
}

// AskStream is Ask with incremental delivery; see answerer.AnswerStream.
func (p *Pipeline) AskStream(ctx context.Context, question string, history []domain.Message,
	onCitations func([]answerer.Citation) error, onToken func(string) error) (answerer.Answer, error) {
	results, err := p.Search(ctx, question, 0)
	if err != nil {
		return answerer.Answer{}, err
	}
	return p.answerer.AnswerStream(ctx, question, results, history, onCitations, onToken)
}

// Papers lists the live documents. Without a catalog they are derived from
// the indexed chunks.
func (p *Pipeline) Papers() []domain.Document {
	if p.membership != nil && p.membership.Len() > 0 {
		return p.membership.Documents()
	}
	var docs []domain.Document
	seen := map[string]bool{}
	for _, r := range p.index.Snapshot().Records() {
		if seen[r.Chunk.DocumentID] {
			continue
		}
		seen[r.Chunk.DocumentID] = true
		docs = append(docs, domain.Document{ID: r.Chunk.DocumentID, Title: r.Chunk.Title, Year: r.Chunk.Year})
	}
	return docs
}

// Stats summarizes the live documents.
func (p *Pipeline) Stats() catalog.Stats {
	return catalog.ComputeStats(p.Papers())
}

func (p *Pipeline) statsContext() string {
	if p.membership == nil || p.membership.Len() == 0 {
		return ""
	}
	return catalog.ComputeStats(p.membership.Documents()).Context()
}

// Health describes the serving state.
type Health struct {
	Status   string    `json:"status"`
	Papers   int       `json:"papers"`
	Chunks   int       `json:"chunks"`
	Model    string    `json:"model,omitempty"`
	Snapshot string    `json:"snapshot"`
	BuiltAt  time.Time `json:"built_at"`
	Error    string    `json:"error,omitempty"`
}

// Health reports whether the pipeline can serve and what it holds.
func (p *Pipeline) Health() Health {
	snap := p.index.Snapshot()
	h := Health{
		Status:   "healthy",
		Papers:   len(p.Papers()),
		Chunks:   snap.Len(),
		Model:    snap.Model(),
		Snapshot: snap.ID(),
		BuiltAt:  snap.BuiltAt(),
	}
	if err := p.ready(); err != nil {
		h.Status = "unavailable"
		h.Error = err.Error()
	} else if snap.Len() == 0 {
		h.Status = "empty"
	}
	return h
}

func allZero(results []domain.SearchResult) bool {
	for _, r := range results {
		if r.Score > 1e-9 {
			return false
		}
	}
	return true
}

func corpus(records []domain.Record) []string {
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = embedding.ChunkText(r.Chunk)
	}
	return texts
}
