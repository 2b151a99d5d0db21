package model

import (
	"strconv"
	"strings"
	"time"
)

// Core domain types for the integration and delivery core.

// Action names a sync routine an adapter can run.
type Action string

const (
	ActionSyncInventory      Action = "sync_inventory"
	ActionSyncPurchaseOrders Action = "sync_purchase_orders"
	ActionSyncWorkOrderCosts Action = "sync_work_order_costs"
	ActionAll                Action = "all"
)

// ConcreteActions lists the actions "all" expands to, in execution order.
var ConcreteActions = []Action{ActionSyncInventory, ActionSyncPurchaseOrders, ActionSyncWorkOrderCosts}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionSyncInventory, ActionSyncPurchaseOrders, ActionSyncWorkOrderCosts, ActionAll:
		return true
	}
	return false
}

// Expand returns the concrete actions for a.
func (a Action) Expand() []Action {
	if a == ActionAll {
		return append([]Action(nil), ConcreteActions...)
	}
	return []Action{a}
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Integration is one company+provider connection.
type Integration struct {
	ID              string         `json:"id" db:"id"`
	CompanyID       string         `json:"companyId" db:"company_id"`
	Provider        string         `json:"provider" db:"provider"`
	Name            string         `json:"name" db:"name"`
	Config          map[string]any `json:"-" db:"-"`
	Enabled         bool           `json:"enabled" db:"enabled"`
	LastSyncAt      *time.Time     `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	LastSyncStatus  string         `json:"lastSyncStatus,omitempty" db:"last_sync_status"`
	LastSyncMessage string         `json:"lastSyncMessage,omitempty" db:"last_sync_message"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

// ConfigString returns a config value as a trimmed string ("" when absent).
func (i Integration) ConfigString(key string) string {
	v, ok := i.Config[key]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	}
	return ""
}

// ConfigFloat returns a numeric config value, or def when absent or not numeric.
func (i Integration) ConfigFloat(key string, def float64) float64 {
	switch x := i.Config[key].(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	}
	return def
}

// RecordError pins a failure to a single record in a batch.
type RecordError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

// SyncResult is the normalized outcome of one sync action.
type SyncResult struct {
	Action    Action        `json:"action"`
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped,omitempty"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// FailedResult builds a result for an action that could not run at all.
func FailedResult(action Action, message string) SyncResult {
	return SyncResult{
		Action:  action,
		Success: false,
		Message: message,
		Errors:  []RecordError{{Key: string(action), Error: message}},
	}
}

// Merge folds results into one summary for the "all" action.
func Merge(results ...SyncResult) SyncResult {
	out := SyncResult{Action: ActionAll, Success: true}
	msgs := make([]string, 0, len(results))
	for _, r := range results {
		out.Processed += r.Processed
		out.Succeeded += r.Succeeded
		out.Failed += r.Failed
		out.Skipped += r.Skipped
		out.Errors = append(out.Errors, r.Errors...)
		if !r.Success {
			out.Success = false
		}
		if r.Message != "" {
			msgs = append(msgs, string(r.Action)+": "+r.Message)
		}
	}
	out.Message = strings.Join(msgs, "; ")
	return out
}

// IntegrationLog is the append-only audit row for one sync action run.
type IntegrationLog struct {
	ID            string        `json:"id" db:"id"`
	IntegrationID string        `json:"integrationId" db:"integration_id"`
	Action        Action        `json:"action" db:"action"`
	Status        string        `json:"status" db:"status"`
	Message       string        `json:"message" db:"message"`
	Processed     int           `json:"processed" db:"processed"`
	Succeeded     int           `json:"succeeded" db:"succeeded"`
	Failed        int           `json:"failed" db:"failed"`
	Errors        []RecordError `json:"errors,omitempty" db:"-"`
	StartedAt     time.Time     `json:"startedAt" db:"started_at"`
	FinishedAt    time.Time     `json:"finishedAt" db:"finished_at"`
	DurationMs    int64         `json:"durationMs" db:"duration_ms"`
}

// StockRecord is one local inventory row for a spare part at a location.
type StockRecord struct {
	ID         string    `json:"id" db:"id"`
	CompanyID  string    `json:"companyId" db:"company_id"`
	PartNumber string    `json:"partNumber" db:"part_number"`
	PartName   string    `json:"partName" db:"part_name"`
	Quantity   float64   `json:"quantity" db:"quantity"`
	Location   string    `json:"location" db:"location"`
	Unit       string    `json:"unit" db:"unit"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// PurchaseOrder is a local purchase order that may be mirrored in an ERP.
type PurchaseOrder struct {
	ID          string     `json:"id" db:"id"`
	CompanyID   string     `json:"companyId" db:"company_id"`
	ExternalRef string     `json:"externalRef" db:"external_ref"`
	VendorName  string     `json:"vendorName" db:"vendor_name"`
	Status      string     `json:"status" db:"status"`
	Total       float64    `json:"total" db:"total"`
	ExpectedAt  *time.Time `json:"expectedAt,omitempty" db:"expected_at"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at"`
}

// PurchaseOrderUpdate carries the remote fields applied to a local purchase order.
type PurchaseOrderUpdate struct {
	Status     string
	Total      *float64
	ExpectedAt *time.Time
	UpdatedAt  time.Time
}

// WorkOrderCost is a completed work order with a finalized cost breakdown.
type WorkOrderCost struct {
	WorkOrderID  string    `json:"workOrderId" db:"work_order_id"`
	CompanyID    string    `json:"companyId" db:"company_id"`
	Number       string    `json:"number" db:"number"`
	MachineName  string    `json:"machineName" db:"machine_name"`
	CompletedAt  time.Time `json:"completedAt" db:"completed_at"`
	LaborCost    float64   `json:"laborCost" db:"labor_cost"`
	PartsCost    float64   `json:"partsCost" db:"parts_cost"`
	ExternalCost float64   `json:"externalCost" db:"external_cost"`
	TotalCost    float64   `json:"totalCost" db:"total_cost"`
	Currency     string    `json:"currency" db:"currency"`
}

// WebhookEndpoint is a company-configured destination for event deliveries.
type WebhookEndpoint struct {
	ID        string    `json:"id" db:"id"`
	CompanyID string    `json:"companyId" db:"company_id"`
	URL       string    `json:"url" db:"url"`
	Secret    string    `json:"-" db:"secret"`
	Events    []string  `json:"events" db:"-"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Subscribed reports whether the endpoint wants event. No events means all.
func (e WebhookEndpoint) Subscribed(event string) bool {
	if !e.Active {
		return false
	}
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == event || ev == "*" {
			return true
		}
	}
	return false
}

const (
	DeliveryPending = "pending"
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

// WebhookDelivery tracks every attempt of pushing one event to one endpoint.
type WebhookDelivery struct {
	ID           string    `json:"id" db:"id"`
	EndpointID   string    `json:"endpointId" db:"endpoint_id"`
	CompanyID    string    `json:"companyId" db:"company_id"`
	Event        string    `json:"event" db:"event"`
	Payload      []byte    `json:"-" db:"payload"`
	Status       string    `json:"status" db:"status"`
	Attempts     int       `json:"attempts" db:"attempts"`
	ResponseCode int       `json:"responseCode,omitempty" db:"response_code"`
	ResponseBody string    `json:"responseBody,omitempty" db:"response_body"`
	Error        string    `json:"error,omitempty" db:"error"`
	DurationMs   int64     `json:"durationMs" db:"duration_ms"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// DeliveryAttempt is the outcome of one HTTP attempt, applied onto a WebhookDelivery.
type DeliveryAttempt struct {
	Status       string
	Attempt      int
	ResponseCode int
	ResponseBody string
	Error        string
	DurationMs   int64
}

const (
	RecipientUser   = "user"
	RecipientVendor = "vendor"
)

// Recipient is a user or vendor contact that can be notified.
type Recipient struct {
	ID        string   `json:"id" db:"id"`
	CompanyID string   `json:"companyId" db:"company_id"`
	Type      string   `json:"type" db:"type"`
	Name      string   `json:"name" db:"name"`
	Email     string   `json:"email,omitempty" db:"email"`
	Phone     string   `json:"phone,omitempty" db:"phone"`
	Role      string   `json:"role,omitempty" db:"role"`
	Channels  []string `json:"channels" db:"-"`
}

// RecipientFilter narrows a recipient lookup. Empty fields match everything.
type RecipientFilter struct {
	IDs  []string `json:"ids,omitempty"`
	Type string   `json:"type,omitempty"`
	Role string   `json:"role,omitempty"`
}
