package embedding

import (
	"container/list"
	"context"
	"slices"
	"strings"
	"sync"

	"primate-rag/internal/domain"
)

// DefaultCacheSize is the number of query embeddings kept.
const DefaultCacheSize = 100

type cacheEntry struct {
	key    string
	vector domain.Vector
}

// Cached wraps an Embedder with an LRU of query embeddings keyed by model
// version and the lowercased, trimmed text. Errors are never cached.
type Cached struct {
	domain.Embedder

	mu    sync.Mutex
	size  int
	order *list.List
	items map[string]*list.Element
}

var _ domain.Embedder = (*Cached)(nil)

// NewCached wraps e with a cache of the given size.
func NewCached(e domain.Embedder, size int) *Cached {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cached{
		Embedder: e,
		size:     size,
		order:    list.New(),
		items:    make(map[string]*list.Element, size),
	}
}

// Embed returns the cached vector or computes and stores a new one.
// The lock is not held while the wrapped embedder runs.
func (c *Cached) Embed(ctx context.Context, text string) (domain.Vector, error) {
	version := c.ModelVersion()
	key := cacheKey(version, text)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		v := el.Value.(*cacheEntry).vector
		c.mu.Unlock()
		return clone(v), nil
	}
	c.mu.Unlock()

	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return domain.Vector{}, err
	}

	// A Prepare ran while embedding: the vector belongs to another version.
	if v.Model != version {
		return v, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return clone(v), nil
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, vector: clone(v)})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return v, nil
}

// Prepare re-prepares the wrapped embedder and drops the cache.
func (c *Cached) Prepare(corpus []string) error {
	err := c.Embedder.Prepare(corpus)
	c.Purge()
	return err
}

// Len returns the number of cached queries.
func (c *Cached) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge drops every cached vector. Call it after the wrapped embedder is re-prepared.
func (c *Cached) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.items)
}

func cacheKey(version, text string) string {
	return version + "\x00" + strings.ToLower(strings.TrimSpace(text))
}

func clone(v domain.Vector) domain.Vector {
	return domain.Vector{Values: slices.Clone(v.Values), Model: v.Model}
}
