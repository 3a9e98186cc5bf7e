package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassificationCache(t *testing.T) {
	c := NewClassificationCache(4, time.Minute)

	_, ok := c.Get("fix the bug")
	assert.False(t, ok)

	want := Classification{Primary: CategoryDebug, Confidence: 0.9}
	c.Put("fix the bug", want)

	got, ok := c.Get("fix the bug")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1, c.Size())
}

func TestClassificationCacheEviction(t *testing.T) {
	c := NewClassificationCache(2, time.Minute)
	c.Put("a", Classification{Primary: CategoryCode})
	c.Put("b", Classification{Primary: CategoryWrite})
	c.Put("c", Classification{Primary: CategoryPlan})

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry must be evicted")
	assert.Equal(t, 2, c.Size())
}
