package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrSyncInProgress = errors.New("sync already in progress for integration")

// Locker guards one integration against overlapping runs. Release is best effort.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// NoopLocker never blocks; concurrent runs race on the final status write.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (func(), error) { return func() {}, nil }

// MemoryLocker is a process-local lock with expiry.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}, now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock(); defer l.mu.Unlock()
	if exp, ok := l.held[key]; ok && l.now().Before(exp) { return nil, ErrSyncInProgress }
	exp := l.now().Add(ttl)
	l.held[key] = exp
	return func() {
		l.mu.Lock(); defer l.mu.Unlock()
		if l.held[key].Equal(exp) { delete(l.held, key) }
	}, nil
}

// RedisLocker uses SET NX with a per-holder value so only the holder can release.
type RedisLocker struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "linecare:lock:sync:"}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	k := l.prefix + key
	v := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, k, v, ttl).Result()
	if err != nil { return nil, err }
	if !ok { return nil, ErrSyncInProgress }
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{k}, v).Err()
	}, nil
}
