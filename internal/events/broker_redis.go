package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over Redis Pub/Sub so every API replica sees every event.
type RedisBroker struct {
	rdb *redis.Client
	mu  sync.Mutex
	ps  map[chan Event]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client) *RedisBroker {
	return &RedisBroker{rdb: rdb, ps: map[chan Event]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(companyID string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, chanName(companyID))
	// initial consume to ensure subscription
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.ps[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select { case ch <- evt: default: }
			}
		}
	}()
	return ch
}

// Unsubscribe closes the pubsub; the reader goroutine then closes ch.
func (b *RedisBroker) Unsubscribe(companyID string, ch chan Event) {
	b.mu.Lock()
	ps := b.ps[ch]
	delete(b.ps, ch)
	b.mu.Unlock()
	if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(companyID string, evt Event) {
	if evt.At.IsZero() { evt.At = time.Now().UTC() }
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, chanName(companyID), data).Err()
}

func chanName(companyID string) string { return "linecare:events:" + companyID }
