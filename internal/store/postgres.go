package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"linecare/internal/model"
)

type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db, now: time.Now}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

//go:embed migrations/*.sql
var migrationsFS embed.FS

const integrationCols = "id, company_id, provider, name, config, enabled, last_sync_at, COALESCE(last_sync_status,'') AS last_sync_status, COALESCE(last_sync_message,'') AS last_sync_message, created_at, updated_at"

type integrationRow struct {
	model.Integration
	ConfigJSON []byte `db:"config"`
}

func (r integrationRow) decode() (model.Integration, error) {
	in := r.Integration
	in.Config = map[string]any{}
	if len(r.ConfigJSON) > 0 {
		if err := json.Unmarshal(r.ConfigJSON, &in.Config); err != nil {
			return model.Integration{}, fmt.Errorf("decode config of integration %s: %w", in.ID, err)
		}
	}
	return in, nil
}

func (p *Postgres) CreateIntegration(ctx context.Context, in model.Integration) (model.Integration, error) {
	if in.ID == "" { in.ID = uuid.New().String() }
	now := p.now().UTC()
	if in.CreatedAt.IsZero() { in.CreatedAt = now }
	in.UpdatedAt = now
	if in.Config == nil { in.Config = map[string]any{} }
	cfg, err := json.Marshal(in.Config)
	if err != nil { return model.Integration{}, err }
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("integrations")
	ib.Cols("id", "company_id", "provider", "name", "config", "enabled", "created_at", "updated_at")
	ib.Values(in.ID, in.CompanyID, in.Provider, in.Name, string(cfg), in.Enabled, in.CreatedAt, in.UpdatedAt)
	q, args := ib.Build()
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return model.Integration{}, fmt.Errorf("insert integration: %w", err)
	}
	return in, nil
}

func (p *Postgres) GetIntegration(ctx context.Context, id string) (model.Integration, error) {
	var row integrationRow
	err := p.db.GetContext(ctx, &row, `SELECT `+integrationCols+` FROM integrations WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) { return model.Integration{}, ErrNotFound }
	if err != nil { return model.Integration{}, err }
	return row.decode()
}

func (p *Postgres) ListIntegrations(ctx context.Context, companyID string) ([]model.Integration, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(integrationCols).From("integrations")
	if companyID != "" {
		sb.Where(sb.Equal("company_id", companyID))
	}
	sb.OrderBy("created_at").Asc()
	return p.selectIntegrations(ctx, sb)
}

func (p *Postgres) ListEnabledIntegrations(ctx context.Context) ([]model.Integration, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(integrationCols).From("integrations")
	sb.Where(sb.Equal("enabled", true))
	sb.OrderBy("created_at").Asc()
	return p.selectIntegrations(ctx, sb)
}

func (p *Postgres) selectIntegrations(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]model.Integration, error) {
	q, args := sb.Build()
	var rows []integrationRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.Integration, 0, len(rows))
	for _, r := range rows {
		in, err := r.decode()
		if err != nil { return nil, err }
		out = append(out, in)
	}
	return out, nil
}

func (p *Postgres) MarkSyncSuccess(ctx context.Context, id, message string, at time.Time) error {
	return p.markSync(ctx, id, model.StatusSuccess, message, at)
}

func (p *Postgres) MarkSyncError(ctx context.Context, id, message string, at time.Time) error {
	return p.markSync(ctx, id, model.StatusError, message, at)
}

func (p *Postgres) markSync(ctx context.Context, id, status, message string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE integrations SET last_sync_at=$2, last_sync_status=$3, last_sync_message=$4, updated_at=$5 WHERE id=$1`,
		id, at.UTC(), status, message, p.now().UTC())
	if err != nil { return err }
	return mustAffect(res)
}

func (p *Postgres) AppendIntegrationLog(ctx context.Context, l model.IntegrationLog) (model.IntegrationLog, error) {
	if l.ID == "" { l.ID = uuid.New().String() }
	errs, err := json.Marshal(nonNilErrors(l.Errors))
	if err != nil { return model.IntegrationLog{}, err }
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("integration_logs")
	ib.Cols("id", "integration_id", "action", "status", "message", "processed", "succeeded", "failed", "errors", "started_at", "finished_at", "duration_ms")
	ib.Values(l.ID, l.IntegrationID, string(l.Action), l.Status, l.Message, l.Processed, l.Succeeded, l.Failed, string(errs), l.StartedAt.UTC(), l.FinishedAt.UTC(), l.DurationMs)
	q, args := ib.Build()
	if _, err := p.db.ExecContext(ctx, q, args...); err != nil {
		return model.IntegrationLog{}, fmt.Errorf("insert integration log: %w", err)
	}
	return l, nil
}

type logRow struct {
	model.IntegrationLog
	ErrorsJSON []byte `db:"errors"`
}

func (p *Postgres) ListIntegrationLogs(ctx context.Context, integrationID string, f LogFilter) ([]model.IntegrationLog, error) {
	q, args := buildLogQuery(integrationID, f)
	var rows []logRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.IntegrationLog, 0, len(rows))
	for _, r := range rows {
		l := r.IntegrationLog
		if len(r.ErrorsJSON) > 0 {
			_ = json.Unmarshal(r.ErrorsJSON, &l.Errors)
		}
		out = append(out, l)
	}
	return out, nil
}

func buildLogQuery(integrationID string, f LogFilter) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "integration_id", "action", "status", "message", "processed", "succeeded", "failed", "errors", "started_at", "finished_at", "duration_ms")
	sb.From("integration_logs")
	sb.Where(sb.Equal("integration_id", integrationID))
	if f.Action != "" {
		sb.Where(sb.Equal("action", string(f.Action)))
	}
	if f.Status != "" {
		sb.Where(sb.Equal("status", f.Status))
	}
	sb.OrderBy("started_at").Desc()
	sb.Limit(clampLimit(f.Limit))
	return sb.Build()
}

func (p *Postgres) ListStockRecords(ctx context.Context, companyID string) ([]model.StockRecord, error) {
	out := []model.StockRecord{}
	err := p.db.SelectContext(ctx, &out,
		`SELECT id, company_id, part_number, part_name, quantity, location, unit, updated_at FROM stock_records WHERE company_id=$1 ORDER BY part_number, location`, companyID)
	return out, err
}

func (p *Postgres) FindPurchaseOrderByExternalRef(ctx context.Context, companyID, ref string) (model.PurchaseOrder, error) {
	var po model.PurchaseOrder
	err := p.db.GetContext(ctx, &po,
		`SELECT id, company_id, external_ref, vendor_name, status, total, expected_at, updated_at FROM purchase_orders WHERE company_id=$1 AND external_ref=$2`, companyID, ref)
	if errors.Is(err, sql.ErrNoRows) { return model.PurchaseOrder{}, ErrNotFound }
	return po, err
}

func (p *Postgres) UpdatePurchaseOrder(ctx context.Context, id string, upd model.PurchaseOrderUpdate) error {
	q, args := buildPurchaseOrderUpdate(id, upd, p.now().UTC())
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil { return err }
	return mustAffect(res)
}

func buildPurchaseOrderUpdate(id string, upd model.PurchaseOrderUpdate, now time.Time) (string, []any) {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("purchase_orders")
	if upd.Status != "" {
		ub.SetMore(ub.Assign("status", upd.Status))
	}
	if upd.Total != nil {
		ub.SetMore(ub.Assign("total", *upd.Total))
	}
	if upd.ExpectedAt != nil {
		ub.SetMore(ub.Assign("expected_at", upd.ExpectedAt.UTC()))
	}
	at := upd.UpdatedAt
	if at.IsZero() { at = now }
	ub.SetMore(ub.Assign("updated_at", at.UTC()))
	ub.Where(ub.Equal("id", id))
	return ub.Build()
}

func (p *Postgres) ListCompletedWorkOrderCosts(ctx context.Context, companyID string) ([]model.WorkOrderCost, error) {
	out := []model.WorkOrderCost{}
	err := p.db.SelectContext(ctx, &out,
		`SELECT id AS work_order_id, company_id, number, machine_name, completed_at, labor_cost, parts_cost, external_cost, total_cost, currency
		   FROM work_orders
		  WHERE company_id=$1 AND status='completed' AND costs_finalized AND completed_at IS NOT NULL
		  ORDER BY completed_at`, companyID)
	return out, err
}

type endpointRow struct {
	model.WebhookEndpoint
	EventsJSON []byte `db:"events"`
}

func (p *Postgres) GetWebhookEndpoint(ctx context.Context, id string) (model.WebhookEndpoint, error) {
	var row endpointRow
	err := p.db.GetContext(ctx, &row, `SELECT id, company_id, url, secret, events, active, created_at FROM webhook_endpoints WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) { return model.WebhookEndpoint{}, ErrNotFound }
	if err != nil { return model.WebhookEndpoint{}, err }
	e := row.WebhookEndpoint
	_ = json.Unmarshal(row.EventsJSON, &e.Events)
	return e, nil
}

func (p *Postgres) ListWebhookEndpoints(ctx context.Context, companyID string) ([]model.WebhookEndpoint, error) {
	var rows []endpointRow
	if err := p.db.SelectContext(ctx, &rows,
		`SELECT id, company_id, url, secret, events, active, created_at FROM webhook_endpoints WHERE company_id=$1 ORDER BY created_at`, companyID); err != nil {
		return nil, err
	}
	out := make([]model.WebhookEndpoint, 0, len(rows))
	for _, r := range rows {
		e := r.WebhookEndpoint
		_ = json.Unmarshal(r.EventsJSON, &e.Events)
		out = append(out, e)
	}
	return out, nil
}

const deliveryCols = "id, endpoint_id, company_id, event, payload, status, attempts, response_code, response_body, error, duration_ms, created_at, updated_at"

func (p *Postgres) CreateWebhookDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	if d.ID == "" { d.ID = uuid.New().String() }
	now := p.now().UTC()
	d.Status = model.DeliveryPending
	d.CreatedAt, d.UpdatedAt = now, now
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (id, endpoint_id, company_id, event, payload, status, attempts, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,0,$7,$7)`,
		d.ID, d.EndpointID, d.CompanyID, d.Event, string(d.Payload), d.Status, now)
	if err != nil { return model.WebhookDelivery{}, fmt.Errorf("insert webhook delivery: %w", err) }
	return d, nil
}

func (p *Postgres) GetWebhookDelivery(ctx context.Context, id string) (model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	err := p.db.GetContext(ctx, &d, `SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) { return model.WebhookDelivery{}, ErrNotFound }
	return d, err
}

func (p *Postgres) RecordDeliveryAttempt(ctx context.Context, id string, a model.DeliveryAttempt) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status=$2, attempts=$3, response_code=$4, response_body=$5, error=$6, duration_ms=$7, updated_at=$8 WHERE id=$1`,
		id, a.Status, a.Attempt, a.ResponseCode, a.ResponseBody, a.Error, a.DurationMs, p.now().UTC())
	if err != nil { return err }
	return mustAffect(res)
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, companyID, status string, limit int) ([]model.WebhookDelivery, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(deliveryCols).From("webhook_deliveries")
	sb.Where(sb.Equal("company_id", companyID))
	if status != "" {
		sb.Where(sb.Equal("status", status))
	}
	sb.OrderBy("created_at").Desc()
	sb.Limit(clampLimit(limit))
	q, args := sb.Build()
	out := []model.WebhookDelivery{}
	err := p.db.SelectContext(ctx, &out, q, args...)
	return out, err
}

func (p *Postgres) ResetWebhookDelivery(ctx context.Context, companyID, id string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE webhook_deliveries SET status='pending', attempts=0, updated_at=$3 WHERE id=$1 AND company_id=$2`,
		id, companyID, p.now().UTC())
	if err != nil { return err }
	return mustAffect(res)
}

type recipientRow struct {
	model.Recipient
	ChannelsJSON []byte `db:"channels"`
}

func (p *Postgres) ListRecipients(ctx context.Context, companyID string, f model.RecipientFilter) ([]model.Recipient, error) {
	q, args := buildRecipientQuery(companyID, f)
	var rows []recipientRow
	if err := p.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	out := make([]model.Recipient, 0, len(rows))
	for _, r := range rows {
		rc := r.Recipient
		_ = json.Unmarshal(r.ChannelsJSON, &rc.Channels)
		out = append(out, rc)
	}
	return out, nil
}

func buildRecipientQuery(companyID string, f model.RecipientFilter) (string, []any) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "company_id", "type", "name", "email", "phone", "role", "channels").From("recipients")
	sb.Where(sb.Equal("company_id", companyID))
	if len(f.IDs) > 0 {
		sb.Where(sb.In("id", sqlbuilder.Flatten(f.IDs)...))
	}
	if f.Type != "" {
		sb.Where(sb.Equal("type", f.Type))
	}
	if f.Role != "" {
		sb.Where(sb.Equal("role", f.Role))
	}
	sb.OrderBy("name").Asc()
	return sb.Build()
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil { return err }
	if n == 0 { return ErrNotFound }
	return nil
}

func nonNilErrors(e []model.RecordError) []model.RecordError {
	if e == nil { return []model.RecordError{} }
	return e
}
