package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig holds configuration for OpenAI-compatible endpoints, used by
// both the embedder and the chat generator.
type OpenAIConfig struct {
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Model             string  `yaml:"model" toml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs" toml:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// GeminiConfig holds configuration for the Gemini API.
type GeminiConfig struct {
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Model             string  `yaml:"model" toml:"model"`
	TaskType          string  `yaml:"task_type,omitempty" toml:"task_type,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string        `yaml:"type" toml:"type"`
	Dimension int           `yaml:"dimension,omitempty" toml:"dimension,omitempty"`
	OpenAI    *OpenAIConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Gemini    *GeminiConfig `yaml:"gemini,omitempty" toml:"gemini,omitempty"`
}

// SegmenterConfig configures how documents are split into chunks.
type SegmenterConfig struct {
	MaxWords      int `yaml:"max_words" toml:"max_words"`
	MinWords      int `yaml:"min_words" toml:"min_words"`
	LookbackWords int `yaml:"lookback_words" toml:"lookback_words"`
}

// RetrieverConfig configures retrieval.
type RetrieverConfig struct {
	TopK int `yaml:"top_k" toml:"top_k"`
	// MinScore is a similarity floor; zero disables it.
	MinScore       float64 `yaml:"min_score" toml:"min_score"`
	MaxPerDocument int     `yaml:"max_per_document" toml:"max_per_document"`
	QueryCacheSize int     `yaml:"query_cache_size" toml:"query_cache_size"`
}

// LLMConfig selects and configures the answer generator.
type LLMConfig struct {
	Type         string        `yaml:"type" toml:"type"`
	TimeoutSecs  int           `yaml:"timeout_secs" toml:"timeout_secs"`
	MaxTokens    int           `yaml:"max_tokens" toml:"max_tokens"`
	Temperature  float64       `yaml:"temperature" toml:"temperature"`
	MaxSentences int           `yaml:"max_sentences,omitempty" toml:"max_sentences,omitempty"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
	Gemini       *GeminiConfig `yaml:"gemini,omitempty" toml:"gemini,omitempty"`
}

// SQLiteConfig locates the SQLite store.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// BlobConfig configures the object storage store.
type BlobConfig struct {
	Type      string `yaml:"type" toml:"type"`
	LocalPath string `yaml:"local_path,omitempty" toml:"local_path,omitempty"`
	S3Bucket  string `yaml:"s3_bucket,omitempty" toml:"s3_bucket,omitempty"`
	S3Region  string `yaml:"s3_region,omitempty" toml:"s3_region,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" toml:"prefix,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" toml:"url"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty" toml:"api_key_env,omitempty"`
	Collection  string `yaml:"collection" toml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// PostgresConfig names the environment variable holding the DSN.
type PostgresConfig struct {
	DSNEnv string `yaml:"dsn_env" toml:"dsn_env"`
}

// StoreConfig selects and configures the persisted store.
type StoreConfig struct {
	Type     string          `yaml:"type" toml:"type"`
	SQLite   *SQLiteConfig   `yaml:"sqlite,omitempty" toml:"sqlite,omitempty"`
	Blob     *BlobConfig     `yaml:"blob,omitempty" toml:"blob,omitempty"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty" toml:"qdrant,omitempty"`
	Postgres *PostgresConfig `yaml:"postgres,omitempty" toml:"postgres,omitempty"`
}

// GitHubConfig locates a catalog README on GitHub.
type GitHubConfig struct {
	Owner    string `yaml:"owner" toml:"owner"`
	Repo     string `yaml:"repo" toml:"repo"`
	Ref      string `yaml:"ref,omitempty" toml:"ref,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty" toml:"token_env,omitempty"`
}

// CatalogConfig locates the paper table.
type CatalogConfig struct {
	ReadmePath string        `yaml:"readme_path" toml:"readme_path"`
	Watch      bool          `yaml:"watch" toml:"watch"`
	GitHub     *GitHubConfig `yaml:"github,omitempty" toml:"github,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr" toml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins,omitempty" toml:"allowed_origins,omitempty"`
	PerClientHourly int      `yaml:"per_client_hourly" toml:"per_client_hourly"`
	PerClientDaily  int      `yaml:"per_client_daily" toml:"per_client_daily"`
	GlobalDaily     int      `yaml:"global_daily" toml:"global_daily"`
}

// IngestConfig configures ingestion.
type IngestConfig struct {
	Workers int `yaml:"workers" toml:"workers"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder" toml:"embedder"`
	Segmenter SegmenterConfig `yaml:"segmenter" toml:"segmenter"`
	Retriever RetrieverConfig `yaml:"retriever" toml:"retriever"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog" toml:"catalog"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Ingest    IngestConfig    `yaml:"ingest" toml:"ingest"`
}

// Load reads a config from a specified path. If the file does not exist,
// returns defaults. Files ending in .toml are decoded as TOML, anything else
// as YAML.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if isTOML(path) {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml and ./config.toml first, then
// ~/.config/primate-rag/config.yaml. If none exists, it writes defaults to
// the user path and returns them.
func LoadDefault() (*AppConfig, string, error) {
	for _, p := range []string{"config.yaml", "config.toml"} {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	userPath, err := DefaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := Marshal(cfg, isTOML(path))
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Marshal encodes cfg as YAML, or TOML when asTOML is set.
func Marshal(cfg *AppConfig, asTOML bool) ([]byte, error) {
	if !asTOML {
		return yaml.Marshal(cfg)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DefaultUserConfigPath is ~/.config/primate-rag/config.yaml.
func DefaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "primate-rag", "config.yaml"), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder: EmbedderConfig{Type: "hashing"},
		LLM:      LLMConfig{Type: "extractive"},
		Store:    StoreConfig{Type: "sqlite"},
		Catalog:  CatalogConfig{ReadmePath: "README.md"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	switch cfg.Embedder.Type {
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small", 30)
	case "gemini":
		if cfg.Embedder.Gemini == nil {
			cfg.Embedder.Gemini = &GeminiConfig{}
		}
		geminiDefaults(cfg.Embedder.Gemini, "text-embedding-004")
	}

	if cfg.Segmenter.MaxWords == 0 {
		cfg.Segmenter.MaxWords = 300
	}
	if cfg.Segmenter.MinWords == 0 {
		cfg.Segmenter.MinWords = 60
	}
	if cfg.Segmenter.LookbackWords == 0 {
		cfg.Segmenter.LookbackWords = 60
	}

	if cfg.Retriever.TopK == 0 {
		cfg.Retriever.TopK = 10
	}
	if cfg.Retriever.QueryCacheSize == 0 {
		cfg.Retriever.QueryCacheSize = 100
	}

	if cfg.LLM.Type == "" {
		cfg.LLM.Type = "extractive"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 60
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.3
	}
	switch cfg.LLM.Type {
	case "openai":
		if cfg.LLM.OpenAI == nil {
			cfg.LLM.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.LLM.OpenAI, "gpt-4o-mini", cfg.LLM.TimeoutSecs)
	case "gemini":
		if cfg.LLM.Gemini == nil {
			cfg.LLM.Gemini = &GeminiConfig{}
		}
		geminiDefaults(cfg.LLM.Gemini, "gemini-1.5-flash")
	case "extractive":
		if cfg.LLM.MaxSentences == 0 {
			cfg.LLM.MaxSentences = 5
		}
	}

	if cfg.Store.Type == "" {
		cfg.Store.Type = "sqlite"
	}
	switch cfg.Store.Type {
	case "sqlite":
		if cfg.Store.SQLite == nil {
			cfg.Store.SQLite = &SQLiteConfig{}
		}
		if cfg.Store.SQLite.Path == "" {
			cfg.Store.SQLite.Path = "data/index.db"
		}
	case "blob":
		if cfg.Store.Blob == nil {
			cfg.Store.Blob = &BlobConfig{}
		}
		if cfg.Store.Blob.Type == "" {
			cfg.Store.Blob.Type = "local"
		}
		if cfg.Store.Blob.Type == "local" && cfg.Store.Blob.LocalPath == "" {
			cfg.Store.Blob.LocalPath = "data/blob"
		}
	case "qdrant":
		if cfg.Store.Qdrant == nil {
			cfg.Store.Qdrant = &QdrantConfig{}
		}
		if cfg.Store.Qdrant.URL == "" {
			cfg.Store.Qdrant.URL = "http://localhost:6333"
		}
		if cfg.Store.Qdrant.Collection == "" {
			cfg.Store.Qdrant.Collection = "primate_papers"
		}
		if cfg.Store.Qdrant.TimeoutSecs == 0 {
			cfg.Store.Qdrant.TimeoutSecs = 30
		}
	case "postgres":
		if cfg.Store.Postgres == nil {
			cfg.Store.Postgres = &PostgresConfig{}
		}
		if cfg.Store.Postgres.DSNEnv == "" {
			cfg.Store.Postgres.DSNEnv = "DATABASE_URL"
		}
	}

	if cfg.Catalog.GitHub != nil && cfg.Catalog.GitHub.TokenEnv == "" {
		cfg.Catalog.GitHub.TokenEnv = "GITHUB_TOKEN"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.PerClientHourly == 0 {
		cfg.Server.PerClientHourly = 20
	}
	if cfg.Server.PerClientDaily == 0 {
		cfg.Server.PerClientDaily = 100
	}
	if cfg.Server.GlobalDaily == 0 {
		cfg.Server.GlobalDaily = 500
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
}

func openAIDefaults(c *OpenAIConfig, model string, timeout int) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" && strings.Contains(c.BaseURL, "api.openai.com") {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = timeout
	}
}

func geminiDefaults(c *GeminiConfig, model string) {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
}

// Validate rejects settings no component can run with.
func (c *AppConfig) Validate() error {
	var errs []error
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown type %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	oneOf("embedder.type", c.Embedder.Type, "hashing", "tfidf", "openai", "gemini")
	oneOf("llm.type", c.LLM.Type, "extractive", "openai", "gemini")
	oneOf("store.type", c.Store.Type, "sqlite", "blob", "qdrant", "postgres")
	if c.Store.Type == "blob" && c.Store.Blob != nil {
		oneOf("store.blob.type", c.Store.Blob.Type, "local", "s3")
		if c.Store.Blob.Type == "s3" && c.Store.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("store.blob.s3_bucket is required for s3"))
		}
	}
	if c.Retriever.TopK < 1 {
		errs = append(errs, fmt.Errorf("retriever.top_k must be at least 1, got %d", c.Retriever.TopK))
	}
	if c.Retriever.MaxPerDocument < 0 {
		errs = append(errs, fmt.Errorf("retriever.max_per_document must not be negative"))
	}
	if c.Segmenter.MinWords > c.Segmenter.MaxWords {
		errs = append(errs, fmt.Errorf("segmenter.min_words (%d) exceeds max_words (%d)", c.Segmenter.MinWords, c.Segmenter.MaxWords))
	}
	if c.Embedder.Dimension < 0 {
		errs = append(errs, fmt.Errorf("embedder.dimension must not be negative"))
	}
	if c.Catalog.GitHub != nil && (c.Catalog.GitHub.Owner == "" || c.Catalog.GitHub.Repo == "") {
		errs = append(errs, errors.New("catalog.github needs owner and repo"))
	}
	return errors.Join(errs...)
}
