// Package orchestrator runs sync actions for an integration end to end: adapter lookup,
// config validation, per-action audit logs, integration status and event fan-out.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"linecare/internal/cache"
	"linecare/internal/events"
	"linecare/internal/httpclient"
	"linecare/internal/integrations"
	"linecare/internal/integrations/factory"
	"linecare/internal/metrics"
	"linecare/internal/model"
	"linecare/internal/store"
	"linecare/internal/webhooks"
)

var (
	ErrIntegrationDisabled = errors.New("integration is disabled")
	ErrUnknownAction       = errors.New("unknown sync action")
)

// EventEmitter is the webhook side of sync completion.
type EventEmitter interface {
	Emit(ctx context.Context, companyID, event string, data any) ([]model.WebhookDelivery, error)
}

type Options struct {
	HTTP    *httpclient.Client
	Tokens  cache.TokenCache
	Events  events.Broker
	Webhook EventEmitter
	// Locker is nil unless per-integration locking is enabled.
	Locker  Locker
	LockTTL time.Duration
	// OnUnmatchedPurchaseOrder is handed to adapters as is.
	OnUnmatchedPurchaseOrder integrations.UnmatchedPurchaseOrderFunc
	Logger                   *zap.Logger
}

type Orchestrator struct {
	store   store.Store
	factory *factory.Factory
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func New(s store.Store, f *factory.Factory, opts Options) *Orchestrator {
	if opts.Logger == nil { opts.Logger = zap.NewNop() }
	if opts.HTTP == nil { opts.HTTP = httpclient.New(httpclient.DefaultConfig(), opts.Logger) }
	if opts.Tokens == nil { opts.Tokens = cache.NewMemory() }
	if opts.Events == nil { opts.Events = events.Nop{} }
	if opts.Locker == nil { opts.Locker = NoopLocker{} }
	if opts.LockTTL <= 0 { opts.LockTTL = 10 * time.Minute }
	return &Orchestrator{store: s, factory: f, opts: opts, logger: opts.Logger, now: time.Now}
}

// Adapter loads an integration and builds its adapter without running anything.
func (o *Orchestrator) Adapter(ctx context.Context, integrationID string) (model.Integration, integrations.Adapter, error) {
	in, err := o.store.GetIntegration(ctx, integrationID)
	if err != nil { return model.Integration{}, nil, err }
	return in, o.factory.For(o.deps(in)), nil
}

func (o *Orchestrator) deps(in model.Integration) integrations.Deps {
	return integrations.Deps{
		Integration:              in,
		Local:                    o.store,
		HTTP:                     o.opts.HTTP,
		Tokens:                   o.opts.Tokens,
		Logger:                   o.logger.With(zap.String("integration_id", in.ID), zap.String("provider", in.Provider)),
		OnUnmatchedPurchaseOrder: o.opts.OnUnmatchedPurchaseOrder,
	}.WithDefaults()
}

// Run performs one full sync invocation. The returned error covers only failures to start
// (unknown integration, disabled, locked) and cancellation; sync failures live in the result.
func (o *Orchestrator) Run(ctx context.Context, integrationID string, action model.Action) (model.SyncResult, error) {
	if !action.Valid() { return model.SyncResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, action) }
	in, adapter, err := o.Adapter(ctx, integrationID)
	if err != nil { return model.SyncResult{}, fmt.Errorf("load integration %s: %w", integrationID, err) }
	if !in.Enabled { return model.SyncResult{}, ErrIntegrationDisabled }

	release, err := o.opts.Locker.Acquire(ctx, in.ID, o.opts.LockTTL)
	if err != nil { return model.SyncResult{}, err }
	defer release()

	log := o.logger.With(zap.String("integration_id", in.ID), zap.String("provider", in.Provider), zap.String("action", string(action)))
	log.Info("sync started")

	var result model.SyncResult
	if v := adapter.ValidateConfig(); !v.Valid {
		result = invalidConfig(action, v)
		o.writeLog(ctx, in, action, result, o.now(), o.now())
		log.Warn("sync skipped, invalid configuration", zap.Strings("errors", v.Errors))
	} else {
		results := make([]model.SyncResult, 0, 3)
		for _, a := range action.Expand() {
			results = append(results, o.runAction(ctx, in, adapter, a))
		}
		result = results[0]
		if action == model.ActionAll { result = model.Merge(results...) }
	}

	o.finish(ctx, in, result)
	log.Info("sync finished", zap.Bool("success", result.Success), zap.Int("processed", result.Processed), zap.Int("failed", result.Failed))
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("sync interrupted: %w", err)
	}
	return result, nil
}

func invalidConfig(action model.Action, v integrations.ValidationResult) model.SyncResult {
	msg := "invalid configuration: " + strings.Join(v.Errors, "; ")
	r := model.SyncResult{Action: action, Message: msg}
	for _, e := range v.Errors {
		r.Errors = append(r.Errors, model.RecordError{Key: "config", Error: e})
	}
	return r
}

// runAction runs one concrete action, always writing its log row.
func (o *Orchestrator) runAction(ctx context.Context, in model.Integration, adapter integrations.Adapter, a model.Action) model.SyncResult {
	started := o.now()
	res := safeSync(ctx, adapter, a, o.logger)
	finished := o.now()
	if res.Action == "" { res.Action = a }

	status := model.StatusSuccess
	if !res.Success { status = model.StatusError }
	metrics.SyncRuns.WithLabelValues(adapter.Provider(), string(a), status).Inc()
	metrics.SyncDuration.WithLabelValues(adapter.Provider(), string(a)).Observe(finished.Sub(started).Seconds())
	metrics.SyncRecords.WithLabelValues(adapter.Provider(), string(a), "succeeded").Add(float64(res.Succeeded - res.Skipped))
	metrics.SyncRecords.WithLabelValues(adapter.Provider(), string(a), "skipped").Add(float64(res.Skipped))
	metrics.SyncRecords.WithLabelValues(adapter.Provider(), string(a), "failed").Add(float64(res.Failed))

	o.writeLog(ctx, in, a, res, started, finished)
	return res
}

func safeSync(ctx context.Context, adapter integrations.Adapter, a model.Action, logger *zap.Logger) (res model.SyncResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("adapter panicked", zap.String("action", string(a)), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = model.FailedResult(a, fmt.Sprint(r))
		}
	}()
	return adapter.Sync(ctx, a)
}

func (o *Orchestrator) writeLog(ctx context.Context, in model.Integration, a model.Action, res model.SyncResult, started, finished time.Time) {
	status := model.StatusSuccess
	if !res.Success { status = model.StatusError }
	l := model.IntegrationLog{
		IntegrationID: in.ID,
		Action:        a,
		Status:        status,
		Message:       res.Message,
		Processed:     res.Processed,
		Succeeded:     res.Succeeded,
		Failed:        res.Failed,
		Errors:        res.Errors,
		StartedAt:     started.UTC(),
		FinishedAt:    finished.UTC(),
		DurationMs:    finished.Sub(started).Milliseconds(),
	}
	// a cancelled job context must not drop the audit row
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := o.store.AppendIntegrationLog(wctx, l); err != nil {
		o.logger.Error("append integration log", zap.String("integration_id", in.ID), zap.String("action", string(a)), zap.Error(err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, in model.Integration, res model.SyncResult) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	at := o.now()
	mark, event := o.store.MarkSyncSuccess, webhooks.EventSyncCompleted
	if !res.Success { mark, event = o.store.MarkSyncError, webhooks.EventSyncFailed }
	if err := mark(wctx, in.ID, res.Message, at); err != nil {
		o.logger.Error("update integration status", zap.String("integration_id", in.ID), zap.Error(err))
	}

	data := map[string]any{
		"integration_id": in.ID,
		"provider":       in.Provider,
		"action":         string(res.Action),
		"success":        res.Success,
		"message":        res.Message,
		"processed":      res.Processed,
		"succeeded":      res.Succeeded,
		"failed":         res.Failed,
	}
	o.opts.Events.Publish(in.CompanyID, events.Event{Type: events.TypeSyncFinished, At: at.UTC(), Data: data})
	if o.opts.Webhook != nil {
		if _, err := o.opts.Webhook.Emit(wctx, in.CompanyID, event, data); err != nil {
			o.logger.Warn("emit sync webhook", zap.String("integration_id", in.ID), zap.Error(err))
		}
	}
}
