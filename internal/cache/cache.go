// Package cache holds short-lived provider access tokens.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// TokenCache stores opaque tokens with a TTL.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

type entry struct {
	value   string
	expires time.Time
}

// Memory is a process-local TokenCache.
type Memory struct {
	mu    sync.Mutex
	items map[string]entry
	Now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]entry{}, Now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock(); defer m.mu.Unlock()
	e, ok := m.items[key]
	if !ok { return "", false }
	if !m.Now().Before(e.expires) {
		delete(m.items, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 { return errors.New("cache: ttl must be positive") }
	m.mu.Lock(); defer m.mu.Unlock()
	m.items[key] = entry{value: value, expires: m.Now().Add(ttl)}
	return nil
}

// Redis shares tokens across workers.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "linecare:token:"}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if err != nil { return "", false }
	return v, true
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 { return errors.New("cache: ttl must be positive") }
	return r.rdb.Set(ctx, r.prefix+key, value, ttl).Err()
}
