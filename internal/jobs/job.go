// Package jobs is the background work queue: envelopes carry their own retry state,
// queues hold them, and a Pool of workers runs them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrQueueClosed = errors.New("queue closed")

// Envelope is one queued job plus its explicit retry state.
type Envelope struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	CompanyID   string          `json:"company_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     time.Duration   `json:"backoff"`
	Timeout     time.Duration   `json:"timeout"`
	// RetryFor bounds retries to a window starting at the first attempt.
	RetryFor       time.Duration `json:"retry_for,omitempty"`
	FirstAttemptAt time.Time     `json:"first_attempt_at,omitempty"`
	AvailableAt    time.Time     `json:"available_at"`
	LastError      string        `json:"last_error,omitempty"`
}

// RetryUntil is the absolute retry deadline, zero when unbounded or not yet started.
func (e Envelope) RetryUntil() time.Time {
	if e.RetryFor <= 0 || e.FirstAttemptAt.IsZero() { return time.Time{} }
	return e.FirstAttemptAt.Add(e.RetryFor)
}

// Decode unmarshals the payload.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", e.Type, err))
	}
	return nil
}

// Spec is the static retry policy of a job type.
type Spec struct {
	Type        string
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	RetryFor    time.Duration
}

// New builds an envelope for spec, available immediately.
func New(spec Spec, companyID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil { return Envelope{}, fmt.Errorf("encode %s payload: %w", spec.Type, err) }
	attempts := spec.MaxAttempts
	if attempts <= 0 { attempts = 1 }
	return Envelope{
		ID:          uuid.New().String(),
		Type:        spec.Type,
		CompanyID:   companyID,
		Payload:     b,
		MaxAttempts: attempts,
		Backoff:     spec.Backoff,
		Timeout:     spec.Timeout,
		RetryFor:    spec.RetryFor,
		AvailableAt: time.Now().UTC(),
	}, nil
}

// Enqueuer is the producer side of a Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, env Envelope) error
}

type Queue interface {
	Enqueuer
	// Dequeue blocks until a job is due, ctx is done, or the queue is closed.
	Dequeue(ctx context.Context) (Envelope, error)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil { return nil }
	return permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
