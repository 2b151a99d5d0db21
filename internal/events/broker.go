// Package events fans job and sync progress out to live subscribers, keyed by company.
package events

import (
	"sync"
	"time"
)

const (
	TypeJobStarted   = "job.started"
	TypeJobSucceeded = "job.succeeded"
	TypeJobRetrying  = "job.retrying"
	TypeJobFailed    = "job.failed"
	TypeSyncFinished = "sync.finished"
)

type Event struct {
	Type string         `json:"type"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

type Broker interface {
	Subscribe(companyID string) chan Event
	Unsubscribe(companyID string, ch chan Event)
	Publish(companyID string, evt Event)
}

// Memory is the in-process broker used when Redis is not configured.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // companyId -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(companyID string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[companyID] == nil { b.subs[companyID] = map[chan Event]struct{}{} }
	b.subs[companyID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(companyID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[companyID]
	if _, ok := m[ch]; !ok { return }
	delete(m, ch)
	if len(m) == 0 { delete(b.subs, companyID) }
	close(ch)
}

// Publish never blocks; slow subscribers drop events.
func (b *Memory) Publish(companyID string, evt Event) {
	if evt.At.IsZero() { evt.At = time.Now().UTC() }
	b.mu.Lock()
	for ch := range b.subs[companyID] {
		select { case ch <- evt: default: }
	}
	b.mu.Unlock()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Subscribe(string) chan Event { return make(chan Event) }
func (Nop) Unsubscribe(_ string, ch chan Event) {}
func (Nop) Publish(string, Event) {}
