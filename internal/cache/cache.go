// Package cache provides a content-addressed in-memory response cache.
// Keys are the SHA-256 of a canonical JSON encoding of (provider, model,
// prompt, sorted params); entries are TTL-bounded and evicted LRU-first
// once the cache is full.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the entry cap before LRU eviction kicks in
	DefaultMaxSize = 1000
	// DefaultTTL bounds entry lifetime
	DefaultTTL = time.Hour
)

// Key computes the content address for one call. Params are flattened into
// sorted key=value pairs so map iteration order cannot change the hash.
func Key(provider, model, prompt string, params map[string]interface{}) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	type kv struct {
		K string      `json:"k"`
		V interface{} `json:"v"`
	}
	canonical := struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Prompt   string `json:"prompt"`
		Params   []kv   `json:"params"`
	}{Provider: provider, Model: model, Prompt: prompt}
	for _, name := range names {
		canonical.Params = append(canonical.Params, kv{K: name, V: params[name]})
	}

	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type entry struct {
	key       string
	value     interface{}
	expiresAt time.Time
}

// ResponseCache is a TTL+LRU cache protected by a single mutex. Reads that
// hit an expired entry delete it and report a miss.
type ResponseCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List // front = most recently used

	hits   uint64
	misses uint64

	now func() time.Time
}

// New creates a cache with the given bounds; zero values use the defaults
func New(maxSize int, ttl time.Duration) *ResponseCache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ResponseCache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached value for key, or nil and false on a miss
func (c *ResponseCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return ent.value, true
}

// Put stores a value under key, evicting the least recently used entry when
// the cache is full. An existing entry is replaced and its TTL refreshed.
func (c *ResponseCache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}

	el := c.order.PushFront(&entry{
		key:       key,
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	})
	c.items[key] = el
}

// Len returns the live entry count, including not-yet-collected expired entries
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns cumulative hit and miss counts
func (c *ResponseCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
