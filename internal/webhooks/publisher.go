package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linecare/internal/model"
	"linecare/internal/store"
)

const (
	EventSyncCompleted = "integration.sync.completed"
	EventSyncFailed    = "integration.sync.failed"
)

type Publisher struct {
	store      store.Store
	dispatcher *Dispatcher
	logger     *zap.Logger
}

func NewPublisher(s store.Store, d *Dispatcher, logger *zap.Logger) *Publisher {
	if logger == nil { logger = zap.NewNop() }
	return &Publisher{store: s, dispatcher: d, logger: logger}
}

// Emit sends an event to all subscribed endpoints of the company and returns the deliveries queued.
func (p *Publisher) Emit(ctx context.Context, companyID, event string, data any) ([]model.WebhookDelivery, error) {
	eps, err := p.store.ListWebhookEndpoints(ctx, companyID)
	if err != nil { return nil, fmt.Errorf("list endpoints: %w", err) }
	var targets []model.WebhookEndpoint
	for _, ep := range eps {
		if ep.Subscribed(event) { targets = append(targets, ep) }
	}
	if len(targets) == 0 { return nil, nil }

	body, err := json.Marshal(map[string]any{
		"id":         "evt_" + uuid.New().String(),
		"event":      event,
		"company_id": companyID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
		"data":       data,
	})
	if err != nil { return nil, fmt.Errorf("encode event: %w", err) }

	out := make([]model.WebhookDelivery, 0, len(targets))
	for _, ep := range targets {
		del, err := p.dispatcher.Dispatch(ctx, ep, event, body)
		if err != nil {
			p.logger.Warn("dispatch webhook", zap.String("endpoint_id", ep.ID), zap.String("event", event), zap.Error(err))
			continue
		}
		out = append(out, del)
	}
	return out, nil
}
