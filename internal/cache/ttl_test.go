package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)

	value, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestTTLCacheExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	_, ok := c.Get("a")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheDeleteIsIdempotent(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, time.Minute)

	c.Delete("a")
	c.Delete("a")

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheRejectsNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int]()
	c.Set("a", 1, 0)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheConcurrentAccess(t *testing.T) {
	c := NewTTLCache[int, int]()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set(j, n, time.Minute)
				c.Get(j)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 100, c.Len())
}
