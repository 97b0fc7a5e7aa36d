package embedding

import (
	"context"
	"time"

	"github.com/blackmichael/bluesky-listfeed/internal/domain"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/zeebo/blake3"
)

// CachedEncoder memoizes another encoder by the BLAKE3 digest of the text.
// Reposted link cards and bot posts often repeat text verbatim.
type CachedEncoder struct {
	inner domain.Encoder
	cache *expirable.LRU[[32]byte, domain.Vector]
}

// NewCachedEncoder wraps inner with an LRU of the given capacity and TTL.
func NewCachedEncoder(inner domain.Encoder, capacity int, ttl time.Duration) *CachedEncoder {
	return &CachedEncoder{
		inner: inner,
		cache: expirable.NewLRU[[32]byte, domain.Vector](capacity, nil, ttl),
	}
}

// Encode returns the cached vector for text or computes and caches it.
// Failures are not cached.
func (c *CachedEncoder) Encode(ctx context.Context, text string) (domain.Vector, error) {
	key := blake3.Sum256([]byte(text))
	if v, ok := c.cache.Get(key); ok {
		cacheHits.Inc()
		return v, nil
	}
	cacheMisses.Inc()

	v, err := c.inner.Encode(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, v)
	return v, nil
}
