package embedder

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CacheConfig bounds the embedding cache.
type CacheConfig struct {
	// MaxCostBytes caps the total cached vector bytes.
	MaxCostBytes int64
	TTL          time.Duration
}

// DefaultCacheConfig returns the default cache bounds.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxCostBytes: 64 << 20,
		TTL:          time.Hour,
	}
}

// CachedEmbedder wraps a Client with a bounded cache keyed by text hash, so
// repeated chunks (headers, boilerplate) are embedded once.
type CachedEmbedder struct {
	inner Client
	cache *ristretto.Cache[string, []float32]
	ttl   time.Duration
}

// NewCachedEmbedder wraps inner with a cache.
func NewCachedEmbedder(inner Client, cfg CacheConfig) (*CachedEmbedder, error) {
	if cfg.MaxCostBytes <= 0 {
		cfg.MaxCostBytes = 64 << 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: 1e6,
		MaxCost:     cfg.MaxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &CachedEmbedder{inner: inner, cache: cache, ttl: cfg.TTL}, nil
}

// Embed implements Client. Cache hits keep their slot; only misses go to the
// inner client, in one batched call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if v, ok := c.cache.Get(cacheKey(text)); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vectors, err := c.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		if len(vectors) != len(missTexts) {
			return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(missTexts), len(vectors))
		}
		for j, v := range vectors {
			out[missIdx[j]] = v
			c.cache.SetWithTTL(cacheKey(missTexts[j]), v, int64(len(v)*4), c.ttl)
		}
	}

	return out, nil
}

// EmbedSingle implements Client.
func (c *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions implements Client.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Close implements Client.
func (c *CachedEmbedder) Close() error {
	c.cache.Close()
	return c.inner.Close()
}

// Wait blocks until pending cache writes are applied. Test helper.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum)
}
