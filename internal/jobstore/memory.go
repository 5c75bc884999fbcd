package jobstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sievehq/sieve/internal/llm"
)

// MemoryStore implements Store in process memory. Used by tests and
// single-process deployments that can tolerate losing job state on restart;
// the disk snapshot still covers terminal records.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	data      json.RawMessage
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) getLocked(key string) (json.RawMessage, bool) {
	entry, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.items, key)
		return nil, false
	}
	return entry.data, true
}

// Put implements Store
func (s *MemoryStore) Put(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return llm.Wrap(err, "jobstore", "failed to marshal value for "+key, llm.CategoryStorage)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = memoryEntry{data: data, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	data, ok := s.getLocked(key)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, llm.Wrap(err, "jobstore", "failed to unmarshal value for "+key, llm.CategoryStorage)
	}
	return true, nil
}

// GetMulti implements Store
func (s *MemoryStore) GetMulti(_ context.Context, keys []string) (map[string]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		if data, ok := s.getLocked(key); ok {
			out[key] = data
		}
	}
	return out, nil
}

// Update implements Store
func (s *MemoryStore) Update(_ context.Context, key string, ttl time.Duration, patch func(current json.RawMessage) (interface{}, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _ := s.getLocked(key)
	updated, err := patch(current)
	if err != nil {
		return err
	}
	data, err := json.Marshal(updated)
	if err != nil {
		return llm.Wrap(err, "jobstore", "failed to marshal update for "+key, llm.CategoryStorage)
	}
	s.items[key] = memoryEntry{data: data, expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// DeleteMulti implements Store
func (s *MemoryStore) DeleteMulti(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// List implements Store; keys are returned sorted for deterministic tests
func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for key := range s.items {
		if _, ok := s.getLocked(key); !ok {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }
