package jobs

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue ordered by AvailableAt.
type MemoryQueue struct {
	mu     sync.Mutex
	items  []Envelope
	notify chan struct{}
	closed bool
	now    func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{notify: make(chan struct{}, 1), now: time.Now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, env Envelope) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, env)
	sort.SliceStable(q.items, func(i, j int) bool { return q.items[i].AvailableAt.Before(q.items[j].AvailableAt) })
	select { case q.notify <- struct{}{}: default: }
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Envelope, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Envelope{}, ErrQueueClosed
		}
		wait := time.Second
		if len(q.items) > 0 {
			head := q.items[0]
			if d := head.AvailableAt.Sub(q.now()); d <= 0 {
				q.items = q.items[1:]
				q.mu.Unlock()
				return head, nil
			} else if d < wait {
				wait = d
			}
		}
		q.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Envelope{}, ctx.Err()
		case <-q.notify:
			t.Stop()
		case <-t.C:
		}
	}
}

// Len reports queued jobs, due or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock(); defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes blocked consumers with ErrQueueClosed.
func (q *MemoryQueue) Close() {
	q.mu.Lock(); defer q.mu.Unlock()
	if q.closed { return }
	q.closed = true
	close(q.notify)
}
