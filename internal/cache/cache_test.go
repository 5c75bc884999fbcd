package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDeterministicAcrossParamOrder(t *testing.T) {
	a := Key("openai", "gpt-4.1", "prompt", map[string]interface{}{
		"temperature": 0.1, "max_tokens": 2048,
	})
	b := Key("openai", "gpt-4.1", "prompt", map[string]interface{}{
		"max_tokens": 2048, "temperature": 0.1,
	})
	assert.Equal(t, a, b, "map iteration order must not change the key")
	assert.Len(t, a, 64, "key is hex sha-256")
}

func TestKeyVariesByInputs(t *testing.T) {
	base := Key("openai", "gpt-4.1", "prompt", nil)
	assert.NotEqual(t, base, Key("anthropic", "gpt-4.1", "prompt", nil))
	assert.NotEqual(t, base, Key("openai", "o4-mini", "prompt", nil))
	assert.NotEqual(t, base, Key("openai", "gpt-4.1", "other prompt", nil))
	assert.NotEqual(t, base, Key("openai", "gpt-4.1", "prompt", map[string]interface{}{"temperature": 0.2}))
}

func TestGetPutRoundTrip(t *testing.T) {
	c := New(10, time.Minute)
	key := Key("p", "m", "prompt", nil)

	_, ok := c.Get(key)
	assert.False(t, ok)

	c.Put(key, "response")
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "response", got)
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, time.Minute)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	c.Put("k", "v")

	clock = clock.Add(30 * time.Second)
	_, ok := c.Get("k")
	assert.True(t, ok)

	clock = clock.Add(31 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry past its TTL reports a miss")
	assert.Equal(t, 0, c.Len(), "expired entry was collected on read")
}

func TestLRUEviction(t *testing.T) {
	c := New(3, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" is the least recently used.
	_, _ = c.Get("a")

	c.Put("d", 4)
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry was evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
}

func TestPutRefreshesExisting(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k", "old")
	c.Put("k", "new")
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", got)
	assert.Equal(t, 1, c.Len())
}

func TestStats(t *testing.T) {
	c := New(10, time.Minute)
	c.Put("k", "v")
	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestDefaultsApplied(t *testing.T) {
	c := New(0, 0)
	for i := 0; i < DefaultMaxSize+10; i++ {
		c.Put(fmt.Sprintf("k%d", i), i)
	}
	assert.Equal(t, DefaultMaxSize, c.Len())
}
