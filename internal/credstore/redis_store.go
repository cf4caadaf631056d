package credstore

import (
	"context"
	"time"

	"fleetdesk/internal/cache"
)

const redisKeyPrefix = "credstore:"

// RedisStore persists entries in Redis through the fail-safe cache client,
// so an unreachable server reads as an empty store.
type RedisStore struct {
	cache  *cache.Client
	prefix string
}

// Ensure RedisStore implements GroupStore
var _ GroupStore = (*RedisStore)(nil)

// NewRedisStore creates a store whose keys live under the given namespace.
func NewRedisStore(c *cache.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = "default"
	}
	return &RedisStore{
		cache:  c,
		prefix: redisKeyPrefix + namespace + ":",
	}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Set(ctx context.Context, key, value string, expiryDays int) {
	_ = s.cache.Set(ctx, s.key(key), []byte(value), ttl(expiryDays))
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool) {
	data, _ := s.cache.Get(ctx, s.key(key))
	if data == nil {
		return "", false
	}
	return string(data), true
}

func (s *RedisStore) Remove(ctx context.Context, key string) {
	_ = s.cache.Delete(ctx, s.key(key))
}

// SetGroup writes all entries in one MULTI/EXEC transaction.
func (s *RedisStore) SetGroup(ctx context.Context, entries []Entry, expiryDays int) {
	batch := make([]cache.Entry, 0, len(entries))
	for _, e := range entries {
		batch = append(batch, cache.Entry{Key: s.key(e.Key), Value: []byte(e.Value)})
	}
	_ = s.cache.SetMany(ctx, batch, ttl(expiryDays))
}

// RemoveGroup deletes all keys with a single DEL.
func (s *RedisStore) RemoveGroup(ctx context.Context, keys ...string) {
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	_ = s.cache.DeleteMany(ctx, full...)
}

func ttl(expiryDays int) time.Duration {
	if expiryDays <= 0 {
		return 0
	}
	return time.Duration(expiryDays) * day
}
