package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linecare/internal/jobs"
	"linecare/internal/model"
	"linecare/internal/notifications"
	"linecare/internal/store"
)

const JobSync = "erp.sync"

// AdminRole is the recipient role told about exhausted sync jobs.
const AdminRole = "admin"

// Notifier is the notification side of a failed sync job.
type Notifier interface {
	SendBulk(ctx context.Context, companyID string, f model.RecipientFilter, msg notifications.Message) (string, error)
}

type JobConfig struct {
	MaxAttempts int
	Timeout     time.Duration
	Backoff     time.Duration
	RetryFor    time.Duration
}

func defaultJobConfig(c JobConfig) JobConfig {
	if c.MaxAttempts <= 0 { c.MaxAttempts = 3 }
	if c.Timeout <= 0 { c.Timeout = 300 * time.Second }
	if c.Backoff <= 0 { c.Backoff = 30 * time.Second }
	if c.RetryFor <= 0 { c.RetryFor = time.Hour }
	return c
}

type syncPayload struct {
	IntegrationID string       `json:"integration_id"`
	Action        model.Action `json:"action"`
}

// Jobs turns sync requests into queued jobs and runs them.
type Jobs struct {
	orch     *Orchestrator
	queue    jobs.Enqueuer
	notifier Notifier
	cfg      JobConfig
	logger   *zap.Logger
}

func NewJobs(o *Orchestrator, q jobs.Enqueuer, n Notifier, cfg JobConfig) *Jobs {
	return &Jobs{orch: o, queue: q, notifier: n, cfg: defaultJobConfig(cfg), logger: o.logger}
}

func (j *Jobs) Register(p *jobs.Pool) {
	p.Handle(JobSync, j.handle)
	p.OnFailure(JobSync, j.failed)
}

// Enqueue queues a sync of integrationID. Unknown actions and integrations are rejected here.
func (j *Jobs) Enqueue(ctx context.Context, integrationID string, action model.Action) (jobs.Envelope, error) {
	if !action.Valid() { return jobs.Envelope{}, fmt.Errorf("%w: %q", ErrUnknownAction, action) }
	in, err := j.orch.store.GetIntegration(ctx, integrationID)
	if err != nil { return jobs.Envelope{}, err }
	if !in.Enabled { return jobs.Envelope{}, ErrIntegrationDisabled }
	env, err := jobs.New(jobs.Spec{
		Type:        JobSync,
		MaxAttempts: j.cfg.MaxAttempts,
		Backoff:     j.cfg.Backoff,
		Timeout:     j.cfg.Timeout,
		RetryFor:    j.cfg.RetryFor,
	}, in.CompanyID, syncPayload{IntegrationID: in.ID, Action: action})
	if err != nil { return jobs.Envelope{}, err }
	if err := j.queue.Enqueue(ctx, env); err != nil { return jobs.Envelope{}, fmt.Errorf("enqueue sync: %w", err) }
	j.logger.Info("sync queued", zap.String("job_id", env.ID), zap.String("integration_id", in.ID), zap.String("action", string(action)))
	return env, nil
}

// EnqueueAll queues action for every enabled integration; used by the scheduler.
func (j *Jobs) EnqueueAll(ctx context.Context, action model.Action) (int, error) {
	ins, err := j.orch.store.ListEnabledIntegrations(ctx)
	if err != nil { return 0, err }
	n := 0
	for _, in := range ins {
		if _, err := j.Enqueue(ctx, in.ID, action); err != nil {
			j.logger.Warn("enqueue scheduled sync", zap.String("integration_id", in.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (j *Jobs) handle(ctx context.Context, env jobs.Envelope) error {
	var p syncPayload
	if err := env.Decode(&p); err != nil { return err }
	_, err := j.orch.Run(ctx, p.IntegrationID, p.Action)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrIntegrationDisabled), errors.Is(err, ErrUnknownAction):
		return jobs.Permanent(err)
	}
	return err
}

// failed records the error on the integration and tells the company admins.
func (j *Jobs) failed(ctx context.Context, env jobs.Envelope, err error) {
	var p syncPayload
	if derr := env.Decode(&p); derr != nil { return }
	j.RecordFailure(ctx, env.CompanyID, p.IntegrationID, p.Action, err)
}

func (j *Jobs) RecordFailure(ctx context.Context, companyID, integrationID string, action model.Action, err error) {
	msg := fmt.Sprintf("sync job failed: %v", err)
	log := j.logger.With(zap.String("integration_id", integrationID), zap.String("action", string(action)))
	if merr := j.orch.store.MarkSyncError(ctx, integrationID, msg, j.orch.now()); merr != nil && !errors.Is(merr, store.ErrNotFound) {
		log.Error("record sync failure", zap.Error(merr))
	}
	if j.notifier == nil || companyID == "" { return }
	_, nerr := j.notifier.SendBulk(ctx, companyID, model.RecipientFilter{Type: model.RecipientUser, Role: AdminRole}, notifications.Message{
		Kind:    "integration.sync_failed",
		Subject: "Integration sync failed",
		Body:    fmt.Sprintf("The %s run for integration %s gave up: %v", action, integrationID, err),
		Data:    map[string]any{"integration_id": integrationID, "action": string(action)},
	})
	if nerr != nil { log.Warn("notify admins of sync failure", zap.Error(nerr)) }
}
