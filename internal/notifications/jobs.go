package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linecare/internal/jobs"
	"linecare/internal/model"
	"linecare/internal/store"
)

const (
	JobSingle = "notification.send"
	JobBulk   = "notification.bulk"
)

var (
	singleSpec = jobs.Spec{Type: JobSingle, MaxAttempts: 3, Backoff: 60 * time.Second, Timeout: 120 * time.Second}
	bulkSpec   = jobs.Spec{Type: JobBulk, MaxAttempts: 3, Backoff: 60 * time.Second, Timeout: 120 * time.Second}
)

type singlePayload struct {
	CompanyID   string  `json:"company_id"`
	RecipientID string  `json:"recipient_id"`
	Message     Message `json:"message"`
}

type bulkPayload struct {
	CompanyID string                `json:"company_id"`
	Filter    model.RecipientFilter `json:"filter"`
	Message   Message               `json:"message"`
}

// Dispatcher queues notification jobs and runs them against a Service.
type Dispatcher struct {
	store   store.Store
	queue   jobs.Enqueuer
	service *Service
	logger  *zap.Logger
	// Backoff overrides the fixed retry delay, for tests and tuning.
	Backoff time.Duration
}

func NewDispatcher(s store.Store, q jobs.Enqueuer, svc *Service, logger *zap.Logger) *Dispatcher {
	if logger == nil { logger = zap.NewNop() }
	return &Dispatcher{store: s, queue: q, service: svc, logger: logger}
}

func (d *Dispatcher) Register(p *jobs.Pool) {
	p.Handle(JobSingle, d.handleSingle)
	p.Handle(JobBulk, d.handleBulk)
}

func (d *Dispatcher) spec(s jobs.Spec) jobs.Spec {
	if d.Backoff > 0 { s.Backoff = d.Backoff }
	return s
}

// Send queues a notification for one recipient.
func (d *Dispatcher) Send(ctx context.Context, companyID, recipientID string, msg Message) (string, error) {
	env, err := jobs.New(d.spec(singleSpec), companyID, singlePayload{CompanyID: companyID, RecipientID: recipientID, Message: msg})
	if err != nil { return "", err }
	if err := d.queue.Enqueue(ctx, env); err != nil { return "", fmt.Errorf("enqueue notification: %w", err) }
	return env.ID, nil
}

// SendBulk queues a notification for every recipient matching f.
func (d *Dispatcher) SendBulk(ctx context.Context, companyID string, f model.RecipientFilter, msg Message) (string, error) {
	env, err := jobs.New(d.spec(bulkSpec), companyID, bulkPayload{CompanyID: companyID, Filter: f, Message: msg})
	if err != nil { return "", err }
	if err := d.queue.Enqueue(ctx, env); err != nil { return "", fmt.Errorf("enqueue notification: %w", err) }
	return env.ID, nil
}

func (d *Dispatcher) handleSingle(ctx context.Context, env jobs.Envelope) error {
	var p singlePayload
	if err := env.Decode(&p); err != nil { return err }
	rs, err := d.store.ListRecipients(ctx, p.CompanyID, model.RecipientFilter{IDs: []string{p.RecipientID}})
	if err != nil { return fmt.Errorf("resolve recipient: %w", err) }
	if len(rs) == 0 { return jobs.Permanent(fmt.Errorf("recipient %s: %w", p.RecipientID, store.ErrNotFound)) }
	return d.finish(env, d.service.NotifyAll(ctx, rs, p.Message))
}

func (d *Dispatcher) handleBulk(ctx context.Context, env jobs.Envelope) error {
	var p bulkPayload
	if err := env.Decode(&p); err != nil { return err }
	rs, err := d.store.ListRecipients(ctx, p.CompanyID, p.Filter)
	if err != nil { return fmt.Errorf("resolve recipients: %w", err) }
	if len(rs) == 0 {
		d.logger.Info("bulk notification matched no recipients", zap.String("job_id", env.ID), zap.String("company_id", p.CompanyID))
		return nil
	}
	rep := d.service.NotifyAll(ctx, rs, p.Message)
	if rep.Interrupted != nil && rep.Sent > 0 {
		// the unreached recipients go out as a new job; retrying this one would resend to the rest
		next := bulkPayload{CompanyID: p.CompanyID, Filter: model.RecipientFilter{IDs: rep.Pending}, Message: p.Message}
		cont, err := jobs.New(d.spec(bulkSpec), p.CompanyID, next)
		if err != nil { return err }
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := d.queue.Enqueue(qctx, cont); err != nil { return fmt.Errorf("enqueue continuation: %w", err) }
		d.logger.Info("bulk notification continued", zap.String("job_id", env.ID), zap.String("next_job_id", cont.ID), zap.Int("pending", len(rep.Pending)))
	}
	return d.finish(env, rep)
}

// finish retries only when nothing went out, so a retry never repeats a delivered send.
// An interrupted job with nothing sent returns the ctx error so the queue retries it.
func (d *Dispatcher) finish(env jobs.Envelope, rep Report) error {
	log := d.logger.With(zap.String("job_id", env.ID), zap.Int("recipients", rep.Recipients), zap.Int("sent", rep.Sent), zap.Int("failed", rep.Failed))
	if rep.Interrupted != nil && rep.Sent == 0 {
		log.Warn("notification job interrupted", zap.Int("pending", len(rep.Pending)), zap.Error(rep.Interrupted))
		return fmt.Errorf("notification job interrupted: %w", rep.Interrupted)
	}
	if rep.Sent == 0 && rep.Failed > 0 {
		log.Warn("notification job delivered nothing", zap.Strings("errors", rep.Errors))
		return errors.New("no notifications sent: " + rep.Errors[0])
	}
	log.Info("notification job finished")
	return nil
}
