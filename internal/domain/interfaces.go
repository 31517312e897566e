package domain

import "context"

// Document is one source paper in the catalog.
type Document struct {
	ID      string
	Title   string
	Year    int
	Authors string
	Species string
	Topics  string
	URL     string
	HasCode bool
	Path    string
	Content string
}

// Citation returns the "Title (Year)" form used when attributing a document.
func (d Document) Citation() string {
	return Citation(d.Title, d.Year)
}

// Chunk is a bounded, section-labeled span of a document's text.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Section    string
	Text       string
	Index      int
	WordCount  int
	Title      string
	Year       int
}

// Vector is an embedding tagged with the model version that produced it.
type Vector struct {
	Values []float64
	Model  string
}

// Dimension returns the vector length.
func (v Vector) Dimension() int { return len(v.Values) }

// Record pairs a chunk with its embedding.
type Record struct {
	Chunk  Chunk
	Vector Vector
}

// Dump is the wholesale persisted form of an index.
type Dump struct {
	Model     string
	Dimension int
	Records   []Record
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Message is one turn of a chat history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Embedder converts free text into a version-tagged vector.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	ModelVersion() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) (Vector, error)
}

// CorpusEmbedder is an Embedder whose vectors depend on the corpus it was
// prepared on. Fork returns an unprepared embedder with the same
// configuration, so a new corpus can be prepared while this one keeps
// serving queries.
type CorpusEmbedder interface {
	Embedder
	Fork() CorpusEmbedder
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// VectorStore persists the whole chunk and vector set.
type VectorStore interface {
	Save(ctx context.Context, dump Dump) error
	Load(ctx context.Context) (Dump, error)
	Close() error
}

// GenerateOptions tunes a single language model call.
type GenerateOptions struct {
	System      string
	History     []Message
	MaxTokens   int
	Temperature float64
}

// Generator produces answer text from a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// StreamGenerator is a Generator that can deliver text incrementally.
type StreamGenerator interface {
	Generator
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onToken func(string) error) error
}

// MembershipFeed reports the set of currently valid document identifiers.
type MembershipFeed interface {
	Contains(documentID string) bool
}
