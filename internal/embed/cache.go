package embed

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Cached memoizes embeddings by content. Embeddings are deterministic
// for a fixed model, so a cache hit is always correct. Batch calls go
// through the cache per text and only the misses hit the provider, in
// one round trip.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps inner with a ristretto cache holding up to maxEntries
// embeddings.
func NewCached(inner Embedder, maxEntries int64) (*Cached, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if hit, ok := c.cache.Get(text); ok {
		if vec, ok := hit.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, 1)
	return vec, nil
}

func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if hit, ok := c.cache.Get(text); ok {
			if vec, ok := hit.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			c.cache.Set(missTexts[j], vec, 1)
		}
	}

	return out, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

// Close releases the cache's internal goroutines.
func (c *Cached) Close() { c.cache.Close() }
