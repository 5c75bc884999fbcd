package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sievehq/sieve/internal/llm"
	"github.com/sievehq/sieve/internal/logutil"
)

// keyedMutex serializes in-process writers per key. Cross-process writers
// are not serialized; the full-replace contract makes that safe.
type keyedMutex struct {
	mu    chan struct{}
	locks map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	km := &keyedMutex{
		mu:    make(chan struct{}, 1),
		locks: make(map[string]chan struct{}),
	}
	return km
}

func (km *keyedMutex) lock(key string) {
	km.mu <- struct{}{}
	ch, ok := km.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		km.locks[key] = ch
	}
	<-km.mu
	ch <- struct{}{}
}

func (km *keyedMutex) unlock(key string) {
	km.mu <- struct{}{}
	ch := km.locks[key]
	<-km.mu
	if ch != nil {
		<-ch
	}
}

// RedisStore implements Store over a Redis-like server using SETEX
// semantics and pipelined multi-key operations.
type RedisStore struct {
	client *redis.Client
	logger logutil.LoggerInterface
	locks  *keyedMutex
}

// NewRedisStore connects to the given address. The connection is verified
// with a ping so a misconfigured address fails at startup, not mid-batch.
func NewRedisStore(ctx context.Context, addr, password string, db int, logger logutil.LoggerInterface) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, llm.Wrap(err, "jobstore", "redis ping failed", llm.CategoryStorage)
	}
	return &RedisStore{client: client, logger: logger, locks: newKeyedMutex()}, nil
}

// Put implements Store
func (s *RedisStore) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return llm.Wrap(err, "jobstore", "failed to marshal value for "+key, llm.CategoryStorage)
	}
	s.locks.lock(key)
	defer s.locks.unlock(key)
	if err := s.client.SetEx(ctx, key, data, ttl).Err(); err != nil {
		return llm.Wrap(err, "jobstore", "SETEX failed for "+key, llm.CategoryStorage)
	}
	return nil
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, llm.Wrap(err, "jobstore", "GET failed for "+key, llm.CategoryStorage)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, llm.Wrap(err, "jobstore", "failed to unmarshal value for "+key, llm.CategoryStorage)
	}
	return true, nil
}

// GetMulti implements Store using one MGET round trip
func (s *RedisStore) GetMulti(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, llm.Wrap(err, "jobstore", "MGET failed", llm.CategoryStorage)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[keys[i]] = json.RawMessage(str)
		}
	}
	return out, nil
}

// Update implements Store: read-modify-write under the key's in-process
// lock, refreshing the TTL on touch.
func (s *RedisStore) Update(ctx context.Context, key string, ttl time.Duration, patch func(current json.RawMessage) (interface{}, error)) error {
	s.locks.lock(key)
	defer s.locks.unlock(key)

	var current json.RawMessage
	data, err := s.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		current = nil
	case err != nil:
		return llm.Wrap(err, "jobstore", "GET failed for "+key, llm.CategoryStorage)
	default:
		current = data
	}

	updated, err := patch(current)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(updated)
	if err != nil {
		return llm.Wrap(err, "jobstore", "failed to marshal update for "+key, llm.CategoryStorage)
	}
	if err := s.client.SetEx(ctx, key, encoded, ttl).Err(); err != nil {
		return llm.Wrap(err, "jobstore", "SETEX failed for "+key, llm.CategoryStorage)
	}
	return nil
}

// Delete implements Store
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return llm.Wrap(err, "jobstore", "DEL failed for "+key, llm.CategoryStorage)
	}
	return nil
}

// DeleteMulti implements Store using one pipelined round trip
func (s *RedisStore) DeleteMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return llm.Wrap(err, "jobstore", "pipelined DEL failed", llm.CategoryStorage)
	}
	return nil
}

// List implements Store using SCAN; keys are returned unsorted
func (s *RedisStore) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return nil, llm.Wrap(err, "jobstore", "SCAN failed", llm.CategoryStorage)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close implements Store
func (s *RedisStore) Close() error { return s.client.Close() }
