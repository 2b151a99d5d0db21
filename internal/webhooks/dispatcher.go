// Package webhooks pushes signed event payloads to company endpoints through the job queue.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linecare/internal/httpclient"
	"linecare/internal/jobs"
	"linecare/internal/metrics"
	"linecare/internal/model"
	"linecare/internal/store"
)

const (
	JobType   = "webhook.deliver"
	UserAgent = "LineCare-Webhooks/1.0"

	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoff     = 60 * time.Second
)

// Outcome is what an attempt means for the retry policy.
type Outcome int

const (
	Delivered Outcome = iota
	Retry
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Retry:
		return "retry"
	}
	return "fail"
}

// Classify maps an attempt result to an outcome: 2xx delivered, 5xx and transport errors retry, the rest fail.
func Classify(code int, err error) Outcome {
	if err != nil { return Retry }
	switch {
	case code >= 200 && code < 300:
		return Delivered
	case code >= 500:
		return Retry
	}
	return Fail
}

type Config struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 { c.Timeout = DefaultTimeout }
	if c.MaxAttempts <= 0 { c.MaxAttempts = DefaultMaxAttempts }
	if c.Backoff <= 0 { c.Backoff = DefaultBackoff }
	return c
}

type deliverPayload struct {
	DeliveryID string `json:"delivery_id"`
}

// Dispatcher records deliveries and performs the signed POSTs as jobs.
type Dispatcher struct {
	store  store.Store
	queue  jobs.Enqueuer
	http   *httpclient.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatcher(s store.Store, q jobs.Enqueuer, hc *httpclient.Client, cfg Config, logger *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil { logger = zap.NewNop() }
	return &Dispatcher{store: s, queue: q, http: hc.WithTimeout(cfg.Timeout), cfg: cfg, logger: logger, now: time.Now}
}

// Register wires the delivery handler into a pool.
func (d *Dispatcher) Register(p *jobs.Pool) {
	p.Handle(JobType, d.Deliver)
}

func (d *Dispatcher) spec() jobs.Spec {
	// the HTTP timeout bounds each attempt; the job timeout leaves room for bookkeeping
	return jobs.Spec{Type: JobType, MaxAttempts: d.cfg.MaxAttempts, Backoff: d.cfg.Backoff, Timeout: d.cfg.Timeout + 30*time.Second}
}

// Dispatch writes a pending delivery row for the raw payload and queues the first attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, ep model.WebhookEndpoint, event string, payload []byte) (model.WebhookDelivery, error) {
	if !json.Valid(payload) { return model.WebhookDelivery{}, errors.New("payload is not valid JSON") }
	del, err := d.store.CreateWebhookDelivery(ctx, model.WebhookDelivery{
		EndpointID: ep.ID,
		CompanyID:  ep.CompanyID,
		Event:      event,
		Payload:    payload,
	})
	if err != nil { return model.WebhookDelivery{}, fmt.Errorf("create delivery: %w", err) }
	if err := d.enqueue(ctx, del); err != nil { return del, err }
	d.logger.Debug("webhook queued", zap.String("delivery_id", del.ID), zap.String("event", event), zap.String("endpoint_id", ep.ID))
	return del, nil
}

// Redeliver resets a finished delivery and queues a fresh attempt cycle.
func (d *Dispatcher) Redeliver(ctx context.Context, companyID, id string) (model.WebhookDelivery, error) {
	if err := d.store.ResetWebhookDelivery(ctx, companyID, id); err != nil { return model.WebhookDelivery{}, err }
	del, err := d.store.GetWebhookDelivery(ctx, id)
	if err != nil { return model.WebhookDelivery{}, err }
	return del, d.enqueue(ctx, del)
}

func (d *Dispatcher) enqueue(ctx context.Context, del model.WebhookDelivery) error {
	env, err := jobs.New(d.spec(), del.CompanyID, deliverPayload{DeliveryID: del.ID})
	if err != nil { return err }
	if err := d.queue.Enqueue(ctx, env); err != nil { return fmt.Errorf("enqueue delivery: %w", err) }
	return nil
}

// Deliver is the job handler for one attempt.
func (d *Dispatcher) Deliver(ctx context.Context, env jobs.Envelope) error {
	var p deliverPayload
	if err := env.Decode(&p); err != nil { return err }
	del, err := d.store.GetWebhookDelivery(ctx, p.DeliveryID)
	if errors.Is(err, store.ErrNotFound) { return jobs.Permanent(fmt.Errorf("delivery %s: %w", p.DeliveryID, err)) }
	if err != nil { return err }
	log := d.logger.With(zap.String("delivery_id", del.ID), zap.String("event", del.Event), zap.Int("attempt", env.Attempt))

	ep, err := d.store.GetWebhookEndpoint(ctx, del.EndpointID)
	if err != nil || !ep.Active {
		msg := "endpoint not found"
		if err == nil { msg = "endpoint inactive" }
		_ = d.store.RecordDeliveryAttempt(ctx, del.ID, model.DeliveryAttempt{Status: model.DeliveryFailed, Attempt: env.Attempt, Error: msg})
		return jobs.Permanent(errors.New(msg))
	}

	code, body, dur, sendErr := d.send(ctx, ep, del)
	outcome := Classify(code, sendErr)
	a := model.DeliveryAttempt{
		Status:       model.DeliveryFailed,
		Attempt:      env.Attempt,
		ResponseCode: code,
		ResponseBody: store.TruncateBody(body),
		DurationMs:   dur.Milliseconds(),
	}
	if outcome == Delivered { a.Status = model.DeliverySuccess }
	if sendErr != nil { a.Error = sendErr.Error() }
	if err := d.store.RecordDeliveryAttempt(ctx, del.ID, a); err != nil {
		log.Error("record delivery attempt", zap.Error(err))
	}
	metrics.WebhookDeliveries.WithLabelValues(del.Event, a.Status).Inc()
	metrics.WebhookLatency.WithLabelValues(del.Event, a.Status).Observe(float64(a.DurationMs))

	switch outcome {
	case Delivered:
		log.Info("webhook delivered", zap.Int("status", code), zap.Int64("duration_ms", a.DurationMs))
		return nil
	case Retry:
		if sendErr != nil { return fmt.Errorf("deliver webhook: %w", sendErr) }
		return fmt.Errorf("deliver webhook: endpoint returned %d", code)
	}
	log.Warn("webhook rejected", zap.Int("status", code), zap.String("body", a.ResponseBody))
	return jobs.Permanent(fmt.Errorf("deliver webhook: endpoint returned %d", code))
}

func (d *Dispatcher) send(ctx context.Context, ep model.WebhookEndpoint, del model.WebhookDelivery) (int, []byte, time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(del.Payload))
	if err != nil { return 0, nil, 0, err }
	ts := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Webhook-Event", del.Event)
	req.Header.Set("X-Webhook-Delivery", uuid.New().String())
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts, 10))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", SignatureHeader(ep.Secret, ts, del.Payload))
	}
	resp, err := d.http.Do(ctx, req)
	if err != nil { return 0, nil, time.Since(start), err }
	return resp.StatusCode, resp.Body, resp.Duration, nil
}
