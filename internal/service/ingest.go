package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"primate-rag/internal/domain"
	"primate-rag/internal/embedding"
	"primate-rag/internal/extract"
	"primate-rag/internal/logger"
	"primate-rag/internal/vectorstore"
)

// IngestReport summarizes one ingest run.
type IngestReport struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Embedded  int           `json:"embedded"`
	Reused    int           `json:"reused"`
	Total     int           `json:"total"`
	Snapshot  string        `json:"snapshot"`
	Duration  time.Duration `json:"duration"`
}

// Ingest segments and embeds docs, then persists and publishes the new
// record set. Records of other documents are kept; records of re-ingested
// documents are replaced. On any failure, including cancellation, neither
// the store nor the index changes, and searches keep running against the
// previous snapshot throughout.
func (p *Pipeline) Ingest(ctx context.Context, docs []domain.Document) (IngestReport, error) {
	logger.Section("Ingest")
	start := time.Now()
	if len(docs) == 0 {
		return IngestReport{}, fmt.Errorf("ingest: %w: no documents", domain.ErrInvalidInput)
	}

	replaced := make(map[string]bool, len(docs))
	var fresh []domain.Chunk
	for _, d := range docs {
		if replaced[d.ID] {
			return IngestReport{}, fmt.Errorf("ingest: %w: document %s given twice", domain.ErrInvalidInput, d.ID)
		}
		replaced[d.ID] = true
		chunks, err := p.chunker.Chunk(d)
		if err != nil {
			return IngestReport{}, fmt.Errorf("ingest: %w", err)
		}
		if len(chunks) == 0 {
			logger.Warn("ingest: %s has no text", d.ID)
		}
		logger.Debug("ingest: %s -> %d chunks", d.ID, len(chunks))
		fresh = append(fresh, chunks...)
	}

	base := p.index.Snapshot()
	var kept []domain.Record
	for _, r := range base.Records() {
		if !replaced[r.Chunk.DocumentID] {
			kept = append(kept, r)
		}
	}

	all := make([]domain.Chunk, 0, len(kept)+len(fresh))
	for _, r := range kept {
		all = append(all, r.Chunk)
	}
	all = append(all, fresh...)
	if len(all) == 0 {
		return IngestReport{}, fmt.Errorf("ingest: %w: no text to index", domain.ErrInvalidInput)
	}
	texts := make([]string, len(all))
	for i, c := range all {
		texts[i] = embedding.ChunkText(c)
	}

	queries, err := p.prepare(texts)
	if err != nil {
		return IngestReport{}, fmt.Errorf("prepare embedder: %w", err)
	}
	fail := func(err error) (IngestReport, error) {
		logger.Warn("ingest: nothing committed: %v", err)
		return IngestReport{}, fmt.Errorf("ingest: %w", err)
	}

	// Vectors of kept records stay valid while the model version is unchanged.
	report := IngestReport{Documents: len(docs), Chunks: len(fresh)}
	version := queries.ModelVersion()
	records := make([]domain.Record, len(all))
	var todo []int
	for i, c := range all {
		if i < len(kept) && kept[i].Vector.Model == version {
			records[i] = kept[i]
			report.Reused++
			continue
		}
		records[i].Chunk = c
		todo = append(todo, i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, i := range todo {
		g.Go(func() error {
			v, err := queries.Embedder.Embed(gctx, texts[i])
			if err != nil {
				return fmt.Errorf("embed %s: %w", all[i].ChunkID, err)
			}
			records[i].Vector = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(domain.Upstream("ingest", err))
	}
	report.Embedded = len(todo)

	dim := 0
	if len(records) > 0 {
		dim = records[0].Vector.Dimension()
	}
	dump := domain.Dump{Model: version, Dimension: dim, Records: records}
	if err := vectorstore.Validate(dump); err != nil {
		return fail(err)
	}
	if err := p.commit(ctx, base, dump, queries); err != nil {
		return fail(err)
	}
	p.setFatal(nil)

	report.Total = len(records)
	report.Snapshot = p.index.Snapshot().ID()
	report.Duration = time.Since(start)
	logger.Info("ingested %d documents: %d new chunks, %d embedded, %d reused, %d total in %s",
		report.Documents, report.Chunks, report.Embedded, report.Reused, report.Total, report.Duration.Round(time.Millisecond))
	return report, nil
}

// Remove drops every chunk of the given documents and persists the result.
func (p *Pipeline) Remove(ctx context.Context, ids ...string) (int, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return p.retain(ctx, func(c domain.Chunk) bool { return !drop[c.DocumentID] })
}

// Prune drops chunks of documents that are no longer in the catalog.
func (p *Pipeline) Prune(ctx context.Context) (int, error) {
	if p.membership == nil || p.membership.Len() == 0 {
		return 0, nil
	}
	return p.retain(ctx, func(c domain.Chunk) bool { return p.membership.Contains(c.DocumentID) })
}

// retain publishes the records keep accepts and returns how many were
// dropped. Vectors and the query embedder are reused.
func (p *Pipeline) retain(ctx context.Context, keep func(domain.Chunk) bool) (int, error) {
	base := p.index.Snapshot()
	var records []domain.Record
	for _, r := range base.Records() {
		if keep(r.Chunk) {
			records = append(records, r)
		}
	}
	dropped := base.Len() - len(records)
	if dropped == 0 {
		return 0, nil
	}
	dump := domain.Dump{Model: base.Model(), Dimension: base.Dimension(), Records: records}
	if len(records) == 0 {
		dump = domain.Dump{}
	}
	if err := p.commit(ctx, base, dump, base.Embedder()); err != nil {
		return 0, err
	}
	logger.Info("removed %d chunks, %d remain", dropped, len(records))
	return dropped, nil
}

// ReadDocuments extracts the text of each file matched by paths. The
// document id is the file name without extension; metadata comes from the
// catalog when it lists that id.
func (p *Pipeline) ReadDocuments(ctx context.Context, ex *extract.Extractor, paths []string) ([]domain.Document, error) {
	var files []string
	for _, pattern := range paths {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if matches == nil {
			matches = []string{pattern}
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	docs := make([]domain.Document, 0, len(files))
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		ext, err := ex.ExtractFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		doc := domain.Document{ID: id, Title: id, Path: path}
		if p.membership != nil {
			if meta, ok := p.membership.Lookup(id); ok {
				doc = meta
				doc.Path = path
			} else {
				logger.Warn("%s is not in the catalog; it will be filtered from answers", id)
			}
		}
		doc.Content = ext.Text()
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents found", domain.ErrNotFound)
	}
	return docs, nil
}
