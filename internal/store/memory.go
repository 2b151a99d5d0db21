package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"linecare/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu           sync.Mutex
	integrations map[string]model.Integration       // id -> integration
	logs         map[string][]model.IntegrationLog  // integration id -> logs (append order)
	stock        map[string][]model.StockRecord     // company -> stock rows
	pos          map[string]model.PurchaseOrder     // id -> purchase order
	costs        map[string][]model.WorkOrderCost   // company -> completed work orders
	endpoints    map[string]model.WebhookEndpoint   // id -> endpoint
	deliveries   map[string]*model.WebhookDelivery  // id -> delivery state
	delivOrder   []string                           // delivery ids in creation order
	recipients   map[string][]model.Recipient       // company -> recipients
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		integrations: map[string]model.Integration{},
		logs:         map[string][]model.IntegrationLog{},
		stock:        map[string][]model.StockRecord{},
		pos:          map[string]model.PurchaseOrder{},
		costs:        map[string][]model.WorkOrderCost{},
		endpoints:    map[string]model.WebhookEndpoint{},
		deliveries:   map[string]*model.WebhookDelivery{},
		recipients:   map[string][]model.Recipient{},
		now:          time.Now,
	}
}

// Seeding helpers used by the dev server and tests.

func (m *Memory) PutStock(recs ...model.StockRecord) {
	m.mu.Lock(); defer m.mu.Unlock()
	for _, r := range recs {
		if r.ID == "" { r.ID = uuid.New().String() }
		m.stock[r.CompanyID] = append(m.stock[r.CompanyID], r)
	}
}

func (m *Memory) PutPurchaseOrder(po model.PurchaseOrder) model.PurchaseOrder {
	m.mu.Lock(); defer m.mu.Unlock()
	if po.ID == "" { po.ID = uuid.New().String() }
	m.pos[po.ID] = po
	return po
}

func (m *Memory) PurchaseOrder(id string) (model.PurchaseOrder, bool) {
	m.mu.Lock(); defer m.mu.Unlock()
	po, ok := m.pos[id]
	return po, ok
}

func (m *Memory) PutWorkOrderCost(costs ...model.WorkOrderCost) {
	m.mu.Lock(); defer m.mu.Unlock()
	for _, c := range costs {
		if c.WorkOrderID == "" { c.WorkOrderID = uuid.New().String() }
		m.costs[c.CompanyID] = append(m.costs[c.CompanyID], c)
	}
}

func (m *Memory) PutWebhookEndpoint(e model.WebhookEndpoint) model.WebhookEndpoint {
	m.mu.Lock(); defer m.mu.Unlock()
	if e.ID == "" { e.ID = uuid.New().String() }
	if e.CreatedAt.IsZero() { e.CreatedAt = m.now().UTC() }
	m.endpoints[e.ID] = e
	return e
}

func (m *Memory) PutRecipient(rs ...model.Recipient) {
	m.mu.Lock(); defer m.mu.Unlock()
	for _, r := range rs {
		if r.ID == "" { r.ID = uuid.New().String() }
		m.recipients[r.CompanyID] = append(m.recipients[r.CompanyID], r)
	}
}

func (m *Memory) CreateIntegration(ctx context.Context, in model.Integration) (model.Integration, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if in.ID == "" { in.ID = uuid.New().String() }
	now := m.now().UTC()
	if in.CreatedAt.IsZero() { in.CreatedAt = now }
	in.UpdatedAt = now
	in.Config = cloneConfig(in.Config)
	m.integrations[in.ID] = in
	return in, nil
}

func (m *Memory) GetIntegration(ctx context.Context, id string) (model.Integration, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok { return model.Integration{}, ErrNotFound }
	in.Config = cloneConfig(in.Config)
	return in, nil
}

func (m *Memory) ListIntegrations(ctx context.Context, companyID string) ([]model.Integration, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.Integration{}
	for _, in := range m.integrations {
		if companyID == "" || in.CompanyID == companyID { out = append(out, in) }
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListEnabledIntegrations(ctx context.Context) ([]model.Integration, error) {
	all, _ := m.ListIntegrations(ctx, "")
	out := []model.Integration{}
	for _, in := range all {
		if in.Enabled { out = append(out, in) }
	}
	return out, nil
}

func (m *Memory) MarkSyncSuccess(ctx context.Context, id, message string, at time.Time) error {
	return m.markSync(id, model.StatusSuccess, message, at)
}

func (m *Memory) MarkSyncError(ctx context.Context, id, message string, at time.Time) error {
	return m.markSync(id, model.StatusError, message, at)
}

func (m *Memory) markSync(id, status, message string, at time.Time) error {
	m.mu.Lock(); defer m.mu.Unlock()
	in, ok := m.integrations[id]
	if !ok { return ErrNotFound }
	t := at.UTC()
	in.LastSyncAt = &t
	in.LastSyncStatus = status
	in.LastSyncMessage = message
	in.UpdatedAt = m.now().UTC()
	m.integrations[id] = in
	return nil
}

func (m *Memory) AppendIntegrationLog(ctx context.Context, l model.IntegrationLog) (model.IntegrationLog, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if l.ID == "" { l.ID = uuid.New().String() }
	l.Errors = append([]model.RecordError(nil), l.Errors...)
	m.logs[l.IntegrationID] = append(m.logs[l.IntegrationID], l)
	return l, nil
}

// ListIntegrationLogs returns newest first.
func (m *Memory) ListIntegrationLogs(ctx context.Context, integrationID string, f LogFilter) ([]model.IntegrationLog, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	src := m.logs[integrationID]
	limit := clampLimit(f.Limit)
	out := []model.IntegrationLog{}
	for i := len(src) - 1; i >= 0 && len(out) < limit; i-- {
		l := src[i]
		if f.Action != "" && l.Action != f.Action { continue }
		if f.Status != "" && l.Status != f.Status { continue }
		out = append(out, l)
	}
	return out, nil
}

func (m *Memory) ListStockRecords(ctx context.Context, companyID string) ([]model.StockRecord, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	return append([]model.StockRecord{}, m.stock[companyID]...), nil
}

func (m *Memory) FindPurchaseOrderByExternalRef(ctx context.Context, companyID, ref string) (model.PurchaseOrder, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	for _, po := range m.pos {
		if po.CompanyID == companyID && po.ExternalRef == ref { return po, nil }
	}
	return model.PurchaseOrder{}, ErrNotFound
}

func (m *Memory) UpdatePurchaseOrder(ctx context.Context, id string, upd model.PurchaseOrderUpdate) error {
	m.mu.Lock(); defer m.mu.Unlock()
	po, ok := m.pos[id]
	if !ok { return ErrNotFound }
	if upd.Status != "" { po.Status = upd.Status }
	if upd.Total != nil { po.Total = *upd.Total }
	if upd.ExpectedAt != nil { t := *upd.ExpectedAt; po.ExpectedAt = &t }
	if !upd.UpdatedAt.IsZero() { po.UpdatedAt = upd.UpdatedAt } else { po.UpdatedAt = m.now().UTC() }
	m.pos[id] = po
	return nil
}

func (m *Memory) ListCompletedWorkOrderCosts(ctx context.Context, companyID string) ([]model.WorkOrderCost, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	return append([]model.WorkOrderCost{}, m.costs[companyID]...), nil
}

func (m *Memory) GetWebhookEndpoint(ctx context.Context, id string) (model.WebhookEndpoint, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	e, ok := m.endpoints[id]
	if !ok { return model.WebhookEndpoint{}, ErrNotFound }
	return e, nil
}

func (m *Memory) ListWebhookEndpoints(ctx context.Context, companyID string) ([]model.WebhookEndpoint, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	out := []model.WebhookEndpoint{}
	for _, e := range m.endpoints {
		if e.CompanyID == companyID { out = append(out, e) }
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreateWebhookDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	if d.ID == "" { d.ID = uuid.New().String() }
	now := m.now().UTC()
	d.Status = model.DeliveryPending
	d.CreatedAt, d.UpdatedAt = now, now
	d.Payload = append([]byte(nil), d.Payload...)
	cp := d
	m.deliveries[d.ID] = &cp
	m.delivOrder = append(m.delivOrder, d.ID)
	return d, nil
}

func (m *Memory) GetWebhookDelivery(ctx context.Context, id string) (model.WebhookDelivery, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil { return model.WebhookDelivery{}, ErrNotFound }
	return *d, nil
}

func (m *Memory) RecordDeliveryAttempt(ctx context.Context, id string, a model.DeliveryAttempt) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil { return ErrNotFound }
	d.Status = a.Status
	d.Attempts = a.Attempt
	d.ResponseCode = a.ResponseCode
	d.ResponseBody = a.ResponseBody
	d.Error = a.Error
	d.DurationMs = a.DurationMs
	d.UpdatedAt = m.now().UTC()
	return nil
}

// ListWebhookDeliveries returns newest first.
func (m *Memory) ListWebhookDeliveries(ctx context.Context, companyID, status string, limit int) ([]model.WebhookDelivery, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	limit = clampLimit(limit)
	out := []model.WebhookDelivery{}
	for i := len(m.delivOrder) - 1; i >= 0 && len(out) < limit; i-- {
		d := m.deliveries[m.delivOrder[i]]
		if d == nil || d.CompanyID != companyID { continue }
		if status != "" && d.Status != status { continue }
		out = append(out, *d)
	}
	return out, nil
}

func (m *Memory) ResetWebhookDelivery(ctx context.Context, companyID, id string) error {
	m.mu.Lock(); defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil || d.CompanyID != companyID { return ErrNotFound }
	d.Status = model.DeliveryPending
	d.Attempts = 0
	d.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) ListRecipients(ctx context.Context, companyID string, f model.RecipientFilter) ([]model.Recipient, error) {
	m.mu.Lock(); defer m.mu.Unlock()
	ids := map[string]bool{}
	for _, id := range f.IDs { ids[id] = true }
	out := []model.Recipient{}
	for _, r := range m.recipients[companyID] {
		if len(ids) > 0 && !ids[r.ID] { continue }
		if f.Type != "" && r.Type != f.Type { continue }
		if f.Role != "" && r.Role != f.Role { continue }
		out = append(out, r)
	}
	return out, nil
}

func cloneConfig(c map[string]any) map[string]any {
	if c == nil { return map[string]any{} }
	out := make(map[string]any, len(c))
	for k, v := range c { out[k] = v }
	return out
}
