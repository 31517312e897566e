package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"primate-rag/internal/answerer"
	"primate-rag/internal/catalog"
	"primate-rag/internal/config"
	"primate-rag/internal/domain"
	"primate-rag/internal/embedding/gemini"
	"primate-rag/internal/embedding/hashing"
	"primate-rag/internal/embedding/openai"
	"primate-rag/internal/embedding/tfidf"
	"primate-rag/internal/llm/extractive"
	geminillm "primate-rag/internal/llm/gemini"
	openaillm "primate-rag/internal/llm/openai"
	"primate-rag/internal/logger"
	"primate-rag/internal/ratelimit"
	"primate-rag/internal/retriever"
	"primate-rag/internal/segmenter"
	"primate-rag/internal/service"
	"primate-rag/internal/vectorstore/blob"
	"primate-rag/internal/vectorstore/postgres"
	"primate-rag/internal/vectorstore/qdrant"
	"primate-rag/internal/vectorstore/sqlite"
)

// app is an assembled pipeline and the resources it holds.
type app struct {
	pipeline   *service.Pipeline
	membership *catalog.Membership
	closers    []io.Closer
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	return errors.Join(errs...)
}

// openApp builds the pipeline described by c and, when load is set,
// restores the index from the store.
func openApp(ctx context.Context, c *config.AppConfig, load bool) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close() //nolint:errcheck
		return nil, err
	}
	track := func(v any) {
		if cl, ok := v.(io.Closer); ok {
			a.closers = append(a.closers, cl)
		}
	}

	store, err := newStore(ctx, c.Store)
	if err != nil {
		return fail(fmt.Errorf("open store: %w", err))
	}
	track(store)
	emb, err := newEmbedder(ctx, c.Embedder)
	if err != nil {
		return fail(fmt.Errorf("create embedder: %w", err))
	}
	track(emb)
	gen, err := newGenerator(ctx, c.LLM)
	if err != nil {
		return fail(fmt.Errorf("create generator: %w", err))
	}
	track(gen)

	docs, err := loadCatalog(ctx, c.Catalog)
	if err != nil {
		return fail(err)
	}
	opts := []service.Option{
		service.WithWorkers(c.Ingest.Workers),
		service.WithQueryCacheSize(c.Retriever.QueryCacheSize),
		service.WithRetrieverOptions(retrieverOptions(c.Retriever)...),
		service.WithAnswererOptions(answererOptions(c.LLM)...),
	}
	if docs != nil {
		a.membership = catalog.NewMembership(docs)
		opts = append(opts, service.WithMembership(a.membership))
	}

	a.pipeline, err = service.New(newSegmenter(c.Segmenter), emb, store, gen, opts...)
	if err != nil {
		return fail(err)
	}
	if load {
		if err := a.pipeline.Load(ctx); err != nil {
			return a, err
		}
	}
	return a, nil
}

func newSegmenter(c config.SegmenterConfig) *segmenter.Segmenter {
	return segmenter.New(
		segmenter.WithMaxWords(c.MaxWords),
		segmenter.WithMinWords(c.MinWords),
		segmenter.WithLookbackWords(c.LookbackWords),
	)
}

func retrieverOptions(c config.RetrieverConfig) []retriever.Option {
	opts := []retriever.Option{
		retriever.WithTopK(c.TopK),
		retriever.WithMaxPerDocument(c.MaxPerDocument),
	}
	if c.MinScore != 0 {
		opts = append(opts, retriever.WithMinScore(c.MinScore))
	}
	return opts
}

func answererOptions(c config.LLMConfig) []answerer.Option {
	return []answerer.Option{
		answerer.WithTimeout(time.Duration(c.TimeoutSecs) * time.Second),
		answerer.WithMaxTokens(c.MaxTokens),
		answerer.WithTemperature(c.Temperature),
	}
}

func limiter(rps float64, burst int) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{RequestsPerSecond: rps, BurstSize: burst})
}

func newEmbedder(ctx context.Context, c config.EmbedderConfig) (domain.Embedder, error) {
	switch c.Type {
	case "hashing", "":
		return hashing.NewEmbedder(c.Dimension), nil
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		if c.OpenAI == nil {
			return nil, errors.New("openai embedder config missing")
		}
		return openai.NewClient(openai.Config{
			BaseURL:   c.OpenAI.BaseURL,
			APIKeyEnv: c.OpenAI.APIKeyEnv,
			Model:     c.OpenAI.Model,
			Dimension: c.Dimension,
			Timeout:   time.Duration(c.OpenAI.TimeoutSecs) * time.Second,
			Limiter:   limiter(c.OpenAI.RequestsPerSecond, c.OpenAI.Burst),
		})
	case "gemini":
		if c.Gemini == nil {
			return nil, errors.New("gemini embedder config missing")
		}
		return gemini.New(ctx, gemini.Config{
			APIKeyEnv: c.Gemini.APIKeyEnv,
			Model:     c.Gemini.Model,
			TaskType:  c.Gemini.TaskType,
			Limiter:   limiter(c.Gemini.RequestsPerSecond, c.Gemini.Burst),
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", c.Type)
	}
}

func newGenerator(ctx context.Context, c config.LLMConfig) (domain.Generator, error) {
	switch c.Type {
	case "extractive", "":
		return extractive.New(c.MaxSentences), nil
	case "openai":
		if c.OpenAI == nil {
			return nil, errors.New("openai llm config missing")
		}
		return openaillm.New(openaillm.Config{
			BaseURL:   c.OpenAI.BaseURL,
			APIKeyEnv: c.OpenAI.APIKeyEnv,
			Model:     c.OpenAI.Model,
			Timeout:   time.Duration(c.OpenAI.TimeoutSecs) * time.Second,
			Limiter:   limiter(c.OpenAI.RequestsPerSecond, c.OpenAI.Burst),
		})
	case "gemini":
		if c.Gemini == nil {
			return nil, errors.New("gemini llm config missing")
		}
		return geminillm.New(ctx, geminillm.Config{
			APIKeyEnv: c.Gemini.APIKeyEnv,
			Model:     c.Gemini.Model,
			Limiter:   limiter(c.Gemini.RequestsPerSecond, c.Gemini.Burst),
		})
	default:
		return nil, fmt.Errorf("unknown llm: %s", c.Type)
	}
}

func newStore(ctx context.Context, c config.StoreConfig) (domain.VectorStore, error) {
	switch c.Type {
	case "sqlite", "":
		path := ""
		if c.SQLite != nil {
			path = c.SQLite.Path
		}
		return sqlite.NewStore(path)
	case "blob":
		if c.Blob == nil {
			return nil, errors.New("blob store config missing")
		}
		bucket, err := blob.NewBucket(ctx, blob.BucketConfig{
			Type:         blob.BucketType(c.Blob.Type),
			LocalPath:    c.Blob.LocalPath,
			S3Bucket:     c.Blob.S3Bucket,
			S3Region:     c.Blob.S3Region,
			AWSAccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			AWSSecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return nil, err
		}
		return blob.NewStore(bucket, c.Blob.Prefix), nil
	case "qdrant":
		if c.Qdrant == nil {
			return nil, errors.New("qdrant config missing")
		}
		var key string
		if c.Qdrant.APIKeyEnv != "" {
			key = os.Getenv(c.Qdrant.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        c.Qdrant.URL,
			APIKey:     key,
			Collection: c.Qdrant.Collection,
			Timeout:    time.Duration(c.Qdrant.TimeoutSecs) * time.Second,
		}), nil
	case "postgres":
		if c.Postgres == nil {
			return nil, errors.New("postgres config missing")
		}
		dsn := os.Getenv(c.Postgres.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("missing postgres DSN in env %s", c.Postgres.DSNEnv)
		}
		return postgres.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store: %s", c.Type)
	}
}

// loadCatalog reads the paper table from GitHub when configured, otherwise
// from the local README. A missing local README means no catalog: every
// indexed document is live.
func loadCatalog(ctx context.Context, c config.CatalogConfig) ([]domain.Document, error) {
	if c.GitHub != nil && c.GitHub.Owner != "" {
		src := catalog.NewGitHubSourceFromEnv(ctx, c.GitHub.Owner, c.GitHub.Repo, c.GitHub.Ref, c.GitHub.TokenEnv)
		docs, err := src.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch catalog: %w", err)
		}
		return docs, nil
	}
	if c.ReadmePath == "" {
		return nil, nil
	}
	docs, err := catalog.ParseFile(c.ReadmePath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("catalog %s not found; answering from every indexed paper", c.ReadmePath)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog: %d papers from %s", len(docs), c.ReadmePath)
	return docs, nil
}
