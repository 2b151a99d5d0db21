package store

import (
	"context"
	"errors"
	"time"

	"linecare/internal/model"
)

// Store is the persistence interface used by the sync orchestrator, the delivery jobs and the API.
type Store interface {
	// Integrations
	CreateIntegration(ctx context.Context, in model.Integration) (model.Integration, error)
	GetIntegration(ctx context.Context, id string) (model.Integration, error)
	ListIntegrations(ctx context.Context, companyID string) ([]model.Integration, error)
	ListEnabledIntegrations(ctx context.Context) ([]model.Integration, error)
	MarkSyncSuccess(ctx context.Context, id, message string, at time.Time) error
	MarkSyncError(ctx context.Context, id, message string, at time.Time) error

	// Integration logs (append-only)
	AppendIntegrationLog(ctx context.Context, l model.IntegrationLog) (model.IntegrationLog, error)
	ListIntegrationLogs(ctx context.Context, integrationID string, f LogFilter) ([]model.IntegrationLog, error)

	// Local CMMS data read by adapters
	ListStockRecords(ctx context.Context, companyID string) ([]model.StockRecord, error)
	FindPurchaseOrderByExternalRef(ctx context.Context, companyID, ref string) (model.PurchaseOrder, error)
	UpdatePurchaseOrder(ctx context.Context, id string, upd model.PurchaseOrderUpdate) error
	ListCompletedWorkOrderCosts(ctx context.Context, companyID string) ([]model.WorkOrderCost, error)

	// Webhook endpoints and deliveries
	GetWebhookEndpoint(ctx context.Context, id string) (model.WebhookEndpoint, error)
	ListWebhookEndpoints(ctx context.Context, companyID string) ([]model.WebhookEndpoint, error)
	CreateWebhookDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error)
	GetWebhookDelivery(ctx context.Context, id string) (model.WebhookDelivery, error)
	RecordDeliveryAttempt(ctx context.Context, id string, a model.DeliveryAttempt) error
	ListWebhookDeliveries(ctx context.Context, companyID, status string, limit int) ([]model.WebhookDelivery, error)
	ResetWebhookDelivery(ctx context.Context, companyID, id string) error

	// Notification recipients
	ListRecipients(ctx context.Context, companyID string, f model.RecipientFilter) ([]model.Recipient, error)
}

// LogFilter narrows ListIntegrationLogs. Zero values match everything.
type LogFilter struct {
	Action model.Action
	Status string
	Limit  int
}

var ErrNotFound = errors.New("not found")

// ResponseBodyLimit caps the stored response body of a webhook delivery.
const ResponseBodyLimit = 2000

// TruncateBody trims a response body to ResponseBodyLimit bytes.
func TruncateBody(b []byte) string {
	if len(b) > ResponseBodyLimit {
		b = b[:ResponseBodyLimit]
	}
	return string(b)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
