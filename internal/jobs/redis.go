package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey   = "linecare:jobs:ready"
	delayedKey = "linecare:jobs:delayed"
)

// RedisQueue keeps due jobs in a list and future jobs in a sorted set scored by
// AvailableAt in unix milliseconds. Consumers promote due entries before popping.
type RedisQueue struct {
	rdb  *redis.Client
	poll time.Duration
	now  func() time.Time
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb, poll: time.Second, now: time.Now}
}

func (q *RedisQueue) Enqueue(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil { return fmt.Errorf("encode job: %w", err) }
	if env.AvailableAt.After(q.now()) {
		return q.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: float64(env.AvailableAt.UnixMilli()), Member: b}).Err()
	}
	return q.rdb.LPush(ctx, readyKey, b).Err()
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Envelope, error) {
	for {
		if err := ctx.Err(); err != nil { return Envelope{}, err }
		if err := q.promote(ctx); err != nil { return Envelope{}, err }
		res, err := q.rdb.BRPop(ctx, q.poll, readyKey).Result()
		if errors.Is(err, redis.Nil) { continue }
		if err != nil {
			if errors.Is(err, redis.ErrClosed) { return Envelope{}, ErrQueueClosed }
			return Envelope{}, err
		}
		var env Envelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			return Envelope{}, fmt.Errorf("decode job: %w", err)
		}
		return env, nil
	}
}

// promote moves due delayed jobs onto the ready list. ZRem decides which consumer wins a member.
func (q *RedisQueue) promote(ctx context.Context) error {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{Min: "-inf", Max: max, Count: 50}).Result()
	if err != nil {
		if errors.Is(err, redis.ErrClosed) { return ErrQueueClosed }
		return err
	}
	for _, m := range due {
		n, err := q.rdb.ZRem(ctx, delayedKey, m).Result()
		if err != nil { return err }
		if n == 0 { continue }
		if err := q.rdb.LPush(ctx, readyKey, m).Err(); err != nil { return err }
	}
	return nil
}
