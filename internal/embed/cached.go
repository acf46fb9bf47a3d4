package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize is the default number of embeddings kept hot.
// Entries are keyed by hash(text, model), matching the contract that a
// caller may cache by input hash because output is fixed per (text, model).
const DefaultEmbeddingCacheSize = 10000

// CachedEmbedder wraps an Embedder with LRU caching so repeated queries
// and re-indexed unchanged chunks never recompute their vectors. Safe for
// every embedder in this package: all of them are deterministic per
// (text, model) pair.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of cacheSize entries
// (0 or negative selects the default size).
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// NewCachedEmbedderWithDefaults wraps inner with the default cache size.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize)
}

// cacheKey hashes (text, model) into a fixed-length key. The model name
// participates so swapping the inner embedder can never serve vectors
// computed by a different model.
func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text + "\x00" + c.inner.ModelName()))
	return hex.EncodeToString(hash[:])
}

// Embed returns the cached embedding when present, computing and caching
// it otherwise. Errors are never cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch serves cache hits immediately and sends only the misses to
// the inner embedder as one smaller batch, preserving input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missIndices []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
			continue
		}
		missIndices = append(missIndices, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	computed, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIndices {
		results[idx] = computed[j]
		c.cache.Add(c.cacheKey(texts[idx]), computed[j])
	}
	return results, nil
}

// Dimensions returns the inner embedder's dimension.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// ModelName returns the inner embedder's model identifier.
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }

// Available reports the inner embedder's readiness.
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner embedder. The cache is not cleared, so later
// calls for cached texts still return their stored vectors.
func (c *CachedEmbedder) Close() error { return c.inner.Close() }

// Inner exposes the wrapped embedder for callers needing features outside
// the Embedder interface.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

// SetBatchIndex passes through to the inner embedder.
func (c *CachedEmbedder) SetBatchIndex(idx int) { c.inner.SetBatchIndex(idx) }

// SetFinalBatch passes through to the inner embedder.
func (c *CachedEmbedder) SetFinalBatch(isFinal bool) { c.inner.SetFinalBatch(isFinal) }
