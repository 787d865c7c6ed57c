package rates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores oracle payloads by currency.
type Cache interface {
	Get(ctx context.Context, currency string) (string, bool, error)
	Set(ctx context.Context, currency, data string, ttl time.Duration) error
}

type memoryEntry struct {
	data    string
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryCache) Get(_ context.Context, currency string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[currency]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, currency)
		return "", false, nil
	}
	return e.data, true, nil
}

func (m *MemoryCache) Set(_ context.Context, currency, data string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[currency] = memoryEntry{data: data, expires: m.now().Add(ttl)}
	return nil
}

// RedisCache shares payloads between gateway replicas.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: "diaspore:rates:"}
}

func (r *RedisCache) Get(ctx context.Context, currency string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, r.prefix+currency).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis: get rate %s: %w", currency, err)
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, currency, data string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, r.prefix+currency, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set rate %s: %w", currency, err)
	}
	return nil
}
