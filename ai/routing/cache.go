package routing

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hrygo/modelpilot/ai/cache"
)

// ClassificationCache memoizes classifier results keyed by a hash of the raw
// task text. Classification is deterministic, so entries never go stale; the
// TTL only bounds memory held for one-off texts.
type ClassificationCache struct {
	lru    *cache.LRUCache[string, Classification]
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewClassificationCache creates a cache with the given capacity and TTL.
func NewClassificationCache(capacity int, ttl time.Duration) *ClassificationCache {
	return &ClassificationCache{
		lru: cache.NewLRUCache[string, Classification](capacity, ttl),
		ttl: ttl,
	}
}

// Get looks up a cached classification for the text.
func (c *ClassificationCache) Get(text string) (Classification, bool) {
	result, ok := c.lru.Get(cacheKey(text))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return result, ok
}

// Put stores a classification for the text.
func (c *ClassificationCache) Put(text string, result Classification) {
	c.lru.Set(cacheKey(text), result, c.ttl)
}

// Stats returns cumulative hit and miss counts.
func (c *ClassificationCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size returns the number of live entries.
func (c *ClassificationCache) Size() int {
	return c.lru.Size()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
