package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Minute)

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[string, int](3, time.Minute)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 0)
	}

	// Touch k0 so k1 becomes the LRU entry.
	_, ok := c.Get("k0")
	require.True(t, ok)

	c.Set("k3", 3, 0)

	_, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("k0")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Size())
}

func TestLRUCache_TTLExpiry(t *testing.T) {
	c := NewLRUCache[string, string](10, time.Minute)

	c.Set("a", "x", time.Nanosecond)
	time.Sleep(2 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok, "expired entry should not be returned")

	c.Set("b", "y", time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	removed := c.CleanupExpired()
	assert.GreaterOrEqual(t, removed, 1)
}

func TestLRUCache_RemoveClear(t *testing.T) {
	c := NewLRUCache[string, int](10, time.Minute)
	c.Set("a", 1, 0)
	c.Set("b", 2, 0)

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))

	c.Clear()
	assert.Equal(t, 0, c.Size())
}
