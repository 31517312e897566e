package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, "extractive", cfg.LLM.Type)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, 10, cfg.Retriever.TopK)
	assert.Zero(t, cfg.Retriever.MinScore)
	assert.Equal(t, 300, cfg.Segmenter.MaxWords)
	assert.Equal(t, 60, cfg.Segmenter.MinWords)
	assert.Equal(t, 20, cfg.Server.PerClientHourly)
	assert.Equal(t, 100, cfg.Server.PerClientDaily)
	assert.Equal(t, 500, cfg.Server.GlobalDaily)
	assert.Equal(t, "data/index.db", cfg.Store.SQLite.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedder:
  type: openai
  openai:
    base_url: http://localhost:11434/v1
    model: nomic-embed-text
retriever:
  top_k: 6
  max_per_document: 2
llm:
  type: gemini
store:
  type: qdrant
  qdrant:
    collection: papers
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Empty(t, cfg.Embedder.OpenAI.APIKeyEnv, "local servers need no key")
	assert.Equal(t, 30, cfg.Embedder.OpenAI.TimeoutSecs)
	assert.Equal(t, 6, cfg.Retriever.TopK)
	assert.Equal(t, 2, cfg.Retriever.MaxPerDocument)
	assert.Equal(t, "GEMINI_API_KEY", cfg.LLM.Gemini.APIKeyEnv)
	assert.Equal(t, "papers", cfg.Store.Qdrant.Collection)
	assert.Equal(t, "http://localhost:6333", cfg.Store.Qdrant.URL)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[embedder]
type = "tfidf"

[store]
type = "blob"

[store.blob]
type = "s3"
s3_bucket = "primate-papers"
s3_region = "eu-west-1"

[server]
allowed_origins = ["https://example.org"]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "primate-papers", cfg.Store.Blob.S3Bucket)
	assert.Equal(t, []string{"https://example.org"}, cfg.Server.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
		want   string
	}{
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "word2vec" }, "embedder.type"},
		{"unknown store", func(c *AppConfig) { c.Store.Type = "redis" }, "store.type"},
		{"top-k below one", func(c *AppConfig) { c.Retriever.TopK = -1 }, "top_k"},
		{"min above max", func(c *AppConfig) { c.Segmenter.MinWords = 500 }, "min_words"},
		{"s3 without bucket", func(c *AppConfig) {
			c.Store.Type = "blob"
			c.Store.Blob = &BlobConfig{Type: "s3"}
		}, "s3_bucket"},
		{"github without repo", func(c *AppConfig) { c.Catalog.GitHub = &GitHubConfig{Owner: "x"} }, "owner and repo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_InvalidFileIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retriever:\n  top_k: -3\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "top_k")
}

func TestSave_RoundTripsBothFormats(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			want := Default()
			want.Retriever.MinScore = 0.2
			require.NoError(t, Save(path, want))
			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
