package integrations

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"linecare/internal/integrations/mapping"
	"linecare/internal/model"
	"linecare/internal/store"
)

// Remote is the provider-specific half of a sync: raw calls with native payloads.
type Remote interface {
	PushInventory(ctx context.Context, payload map[string]any) error
	// FetchPurchaseOrders returns native records, already unwrapped from any response envelope.
	FetchPurchaseOrders(ctx context.Context) ([]any, error)
	PushWorkOrderCost(ctx context.Context, payload map[string]any) error
}

// Batch runs the record loops shared by every adapter. Records are processed sequentially.
type Batch struct {
	CompanyID   string
	Provider    string
	Local       LocalData
	Mapping     *mapping.Mapping
	Resolver    Resolver
	Limiter     *rate.Limiter
	Logger      *zap.Logger
	OnUnmatched UnmatchedPurchaseOrderFunc

	// ConflictField is a JMESPath expression on the native record whose value replaces the
	// mapped updated_at before conflict resolution; empty keeps the mapping's value.
	ConflictField string
}

func NewBatch(provider string, d Deps, m *mapping.Mapping) *Batch {
	d = d.WithDefaults()
	return &Batch{
		CompanyID:     d.Integration.CompanyID,
		Provider:      provider,
		Local:         d.Local,
		Mapping:       m,
		Resolver:      Resolver{},
		Limiter:       d.Limiter,
		Logger:        d.Logger.With(zap.String("integration_id", d.Integration.ID), zap.String("provider", provider)),
		OnUnmatched:   d.OnUnmatchedPurchaseOrder,
		ConflictField: d.Integration.ConfigString("conflict_field"),
	}
}

// Run executes one action (or all three) against remote.
func (b *Batch) Run(ctx context.Context, action model.Action, remote Remote) model.SyncResult {
	switch action {
	case model.ActionSyncInventory:
		return b.Inventory(ctx, remote)
	case model.ActionSyncPurchaseOrders:
		return b.PurchaseOrders(ctx, remote)
	case model.ActionSyncWorkOrderCosts:
		return b.WorkOrderCosts(ctx, remote)
	case model.ActionAll:
		results := make([]model.SyncResult, 0, len(model.ConcreteActions))
		for _, a := range model.ConcreteActions {
			results = append(results, b.Run(ctx, a, remote))
		}
		return model.Merge(results...)
	}
	return model.FailedResult(action, fmt.Sprintf("unknown sync action %q", action))
}

type tally struct {
	r model.SyncResult
}

func (t *tally) ok() { t.r.Processed++; t.r.Succeeded++ }
func (t *tally) skip() { t.ok(); t.r.Skipped++ }
func (t *tally) fail(key string, err error) {
	t.r.Processed++
	t.r.Failed++
	t.r.Errors = append(t.r.Errors, model.RecordError{Key: key, Error: err.Error()})
}

func (t *tally) done(noun string) model.SyncResult {
	t.r.Success = t.r.Failed == 0
	t.r.Message = fmt.Sprintf("%d of %d %s synced", t.r.Succeeded, t.r.Processed, noun)
	if t.r.Failed > 0 { t.r.Message += fmt.Sprintf(", %d failed", t.r.Failed) }
	if t.r.Skipped > 0 { t.r.Message += fmt.Sprintf(", %d skipped", t.r.Skipped) }
	return t.r
}

func (b *Batch) wait(ctx context.Context) error {
	if b.Limiter == nil { return ctx.Err() }
	return b.Limiter.Wait(ctx)
}

func (b *Batch) Inventory(ctx context.Context, remote Remote) model.SyncResult {
	recs, err := b.Local.ListStockRecords(ctx, b.CompanyID)
	if err != nil {
		return model.FailedResult(model.ActionSyncInventory, "load stock records: "+err.Error())
	}
	t := &tally{r: model.SyncResult{Action: model.ActionSyncInventory}}
	for _, rec := range recs {
		if err := b.wait(ctx); err != nil {
			t.fail(rec.PartNumber, err)
			continue
		}
		if err := remote.PushInventory(ctx, b.Mapping.Inventory.Apply(NormalizeStock(rec))); err != nil {
			b.Logger.Debug("inventory push failed", zap.String("part_number", rec.PartNumber), zap.Error(err))
			t.fail(rec.PartNumber, err)
			continue
		}
		t.ok()
	}
	return t.done("inventory records")
}

func (b *Batch) PurchaseOrders(ctx context.Context, remote Remote) model.SyncResult {
	items, err := remote.FetchPurchaseOrders(ctx)
	if err != nil {
		return model.FailedResult(model.ActionSyncPurchaseOrders, "fetch purchase orders: "+err.Error())
	}
	var conflict *jmespath.JMESPath
	if b.ConflictField != "" {
		if conflict, err = jmespath.Compile(b.ConflictField); err != nil {
			return model.FailedResult(model.ActionSyncPurchaseOrders, "invalid conflict_field: "+err.Error())
		}
	}
	t := &tally{r: model.SyncResult{Action: model.ActionSyncPurchaseOrders}}
	for i, item := range items {
		rec, err := b.Mapping.PurchaseOrder.Apply(item)
		if err != nil {
			t.fail("#"+strconv.Itoa(i), err)
			continue
		}
		ref := stringOf(rec["external_ref"])
		if ref == "" {
			t.fail("#"+strconv.Itoa(i), errors.New("remote purchase order has no reference number"))
			continue
		}
		if conflict != nil {
			at, err := conflict.Search(item)
			if err != nil {
				t.fail(ref, fmt.Errorf("conflict_field: %w", err))
				continue
			}
			if at == nil {
				delete(rec, DefaultTimestampField)
			} else {
				rec[DefaultTimestampField] = at
			}
		}
		outcome, err := b.reconcile(ctx, ref, rec)
		switch {
		case err != nil:
			t.fail(ref, err)
		case outcome == outcomeUpdated:
			t.ok()
		default:
			t.skip()
		}
	}
	return t.done("purchase orders")
}

type outcome int

const (
	outcomeUpdated outcome = iota
	outcomeKept
	outcomeUnmatched
)

func (b *Batch) reconcile(ctx context.Context, ref string, remote map[string]any) (outcome, error) {
	local, err := b.Local.FindPurchaseOrderByExternalRef(ctx, b.CompanyID, ref)
	if errors.Is(err, store.ErrNotFound) {
		if b.OnUnmatched == nil {
			b.Logger.Debug("unmatched remote purchase order skipped", zap.String("external_ref", ref))
			return outcomeUnmatched, nil
		}
		if err := b.OnUnmatched(ctx, b.CompanyID, remote); err != nil {
			return outcomeUnmatched, fmt.Errorf("create from remote: %w", err)
		}
		return outcomeUpdated, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup local purchase order: %w", err)
	}

	res := b.Resolver.Resolve(map[string]any{b.Resolver.field(): local.UpdatedAt}, remote)
	b.Logger.Info("purchase order conflict resolved", zap.String("external_ref", ref), zap.Stringer("resolution", res))
	if res.Winner != SideRemote {
		return outcomeKept, nil
	}
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	upd := PurchaseOrderUpdateFrom(remote)
	if res.RemoteAt.After(epoch) { upd.UpdatedAt = res.RemoteAt }
	if err := b.Local.UpdatePurchaseOrder(ctx, local.ID, upd); err != nil {
		return 0, fmt.Errorf("update local purchase order: %w", err)
	}
	return outcomeUpdated, nil
}

func (b *Batch) WorkOrderCosts(ctx context.Context, remote Remote) model.SyncResult {
	costs, err := b.Local.ListCompletedWorkOrderCosts(ctx, b.CompanyID)
	if err != nil {
		return model.FailedResult(model.ActionSyncWorkOrderCosts, "load work order costs: "+err.Error())
	}
	t := &tally{r: model.SyncResult{Action: model.ActionSyncWorkOrderCosts}}
	for _, c := range costs {
		if err := b.wait(ctx); err != nil {
			t.fail(c.Number, err)
			continue
		}
		if err := remote.PushWorkOrderCost(ctx, b.Mapping.WorkOrderCost.Apply(NormalizeCost(c))); err != nil {
			b.Logger.Debug("cost push failed", zap.String("work_order", c.Number), zap.Error(err))
			t.fail(c.Number, err)
			continue
		}
		t.ok()
	}
	return t.done("work order costs")
}

// NormalizeStock is the provider-neutral inventory record.
func NormalizeStock(r model.StockRecord) map[string]any {
	return map[string]any{
		"part_number": r.PartNumber,
		"part_name":   r.PartName,
		"quantity":    r.Quantity,
		"location":    r.Location,
		"unit":        r.Unit,
		"updated_at":  r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// NormalizeCost is the provider-neutral work order cost record.
func NormalizeCost(c model.WorkOrderCost) map[string]any {
	return map[string]any{
		"work_order_id":     c.WorkOrderID,
		"work_order_number": c.Number,
		"machine":           c.MachineName,
		"completed_at":      c.CompletedAt.UTC().Format(time.RFC3339),
		"labor_cost":        c.LaborCost,
		"parts_cost":        c.PartsCost,
		"external_cost":     c.ExternalCost,
		"total_cost":        c.TotalCost,
		"currency":          c.Currency,
	}
}

// PurchaseOrderUpdateFrom converts a normalized remote purchase order into local field updates.
func PurchaseOrderUpdateFrom(rec map[string]any) model.PurchaseOrderUpdate {
	var upd model.PurchaseOrderUpdate
	upd.Status = stringOf(rec["status"])
	if f, ok := floatOf(rec["total"]); ok { upd.Total = &f }
	if t, ok := ParseTimestamp(rec["expected_at"]); ok { upd.ExpectedAt = &t }
	return upd
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func floatOf(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
