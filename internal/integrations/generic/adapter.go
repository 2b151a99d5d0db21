// Package generic is the bearer-token REST adapter, also used for unknown providers.
package generic

import (
	"context"
	"net/http"

	"linecare/internal/integrations"
	"linecare/internal/integrations/auth"
	"linecare/internal/integrations/mapping"
	"linecare/internal/model"
)

const Name = "Generic"

type Adapter struct {
	deps  integrations.Deps
	m     *mapping.Mapping
	batch *integrations.Batch
}

func New(d integrations.Deps) integrations.Adapter {
	d = d.WithDefaults()
	m := mapping.MustLoad("generic")
	return &Adapter{deps: d, m: m, batch: integrations.NewBatch(Name, d, m)}
}

func (a *Adapter) Provider() string { return Name }

func (a *Adapter) ValidateConfig() integrations.ValidationResult {
	return integrations.Validation(integrations.RequireKeys(a.deps.Integration, "api_url", "api_key")...)
}

func (a *Adapter) url(name, def string) string {
	return integrations.JoinURL(a.deps.Integration.ConfigString("api_url"), a.m.Path(name, def))
}

func (a *Adapter) auth() auth.Strategy {
	return auth.Bearer{Token: a.deps.Integration.ConfigString("api_key")}
}

func (a *Adapter) TestConnection(ctx context.Context) integrations.ConnectionResult {
	if _, err := a.deps.HTTP.DoJSON(ctx, http.MethodGet, a.url("test", "/health"), nil, nil, a.auth().Apply); err != nil {
		return integrations.Unreachable(Name, err)
	}
	return integrations.Connected(Name)
}

func (a *Adapter) Sync(ctx context.Context, action model.Action) model.SyncResult {
	return a.batch.Run(ctx, action, a)
}

func (a *Adapter) PushInventory(ctx context.Context, payload map[string]any) error {
	_, err := a.deps.HTTP.DoJSON(ctx, http.MethodPost, a.url("inventory", "/inventory"), payload, nil, a.auth().Apply)
	return err
}

func (a *Adapter) FetchPurchaseOrders(ctx context.Context) ([]any, error) {
	var body any
	if _, err := a.deps.HTTP.DoJSON(ctx, http.MethodGet, a.url("purchase_orders", "/purchase-orders"), nil, &body, a.auth().Apply); err != nil {
		return nil, err
	}
	return a.m.PurchaseOrder.Items(body)
}

func (a *Adapter) PushWorkOrderCost(ctx context.Context, payload map[string]any) error {
	_, err := a.deps.HTTP.DoJSON(ctx, http.MethodPost, a.url("work_order_costs", "/work-order-costs"), payload, nil, a.auth().Apply)
	return err
}
