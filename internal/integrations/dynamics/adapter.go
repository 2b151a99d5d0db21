// Package dynamics talks to the Dynamics 365 Web API with Azure AD client credentials.
package dynamics

import (
	"context"
	"net/http"

	"linecare/internal/integrations"
	"linecare/internal/integrations/auth"
	"linecare/internal/integrations/mapping"
	"linecare/internal/model"
)

const Name = "Microsoft Dynamics 365"

var odataHeaders = auth.Headers{"OData-MaxVersion": "4.0", "OData-Version": "4.0"}

type Adapter struct {
	deps  integrations.Deps
	m     *mapping.Mapping
	batch *integrations.Batch
	auth  auth.Chain
}

func New(d integrations.Deps) integrations.Adapter {
	d = d.WithDefaults()
	m := mapping.MustLoad("dynamics")
	in := d.Integration
	tokenURL := in.ConfigString("token_url")
	if tokenURL == "" { tokenURL = auth.TenantTokenURL(in.ConfigString("tenant_id")) }
	cc := &auth.ClientCredentials{
		TokenURL:     tokenURL,
		ClientID:     in.ConfigString("client_id"),
		ClientSecret: in.ConfigString("client_secret"),
		Resource:     in.ConfigString("resource_url"),
		CacheKey:     "dynamics:" + in.ID,
		Provider:     "dynamics",
		Cache:        d.Tokens,
		HTTP:         d.HTTP,
		Logger:       d.Logger,
	}
	return &Adapter{deps: d, m: m, batch: integrations.NewBatch(Name, d, m), auth: auth.Chain{cc, odataHeaders}}
}

func (a *Adapter) Provider() string { return Name }

func (a *Adapter) ValidateConfig() integrations.ValidationResult {
	return integrations.Validation(integrations.RequireKeys(a.deps.Integration,
		"tenant_id", "client_id", "client_secret", "resource_url")...)
}

// BaseURL is the Web API root under resource_url.
func BaseURL(in model.Integration) string {
	if u := in.ConfigString("api_url"); u != "" { return u }
	return integrations.JoinURL(in.ConfigString("resource_url"), "/api/data/v9.2")
}

func (a *Adapter) url(name string) string {
	return integrations.JoinURL(BaseURL(a.deps.Integration), a.m.Path(name, ""))
}

func (a *Adapter) do(ctx context.Context, method, url string, body, out any) error {
	_, err := a.deps.HTTP.DoJSON(ctx, method, url, body, out, a.auth.Apply)
	return err
}

func (a *Adapter) TestConnection(ctx context.Context) integrations.ConnectionResult {
	if err := a.do(ctx, http.MethodGet, a.url("test"), nil, nil); err != nil {
		return integrations.Unreachable(Name, err)
	}
	return integrations.Connected(Name)
}

func (a *Adapter) Sync(ctx context.Context, action model.Action) model.SyncResult {
	return a.batch.Run(ctx, action, a)
}

func (a *Adapter) PushInventory(ctx context.Context, payload map[string]any) error {
	return a.do(ctx, http.MethodPost, a.url("inventory"), payload, nil)
}

func (a *Adapter) FetchPurchaseOrders(ctx context.Context) ([]any, error) {
	var body any
	if err := a.do(ctx, http.MethodGet, a.url("purchase_orders"), nil, &body); err != nil {
		return nil, err
	}
	return a.m.PurchaseOrder.Items(body)
}

func (a *Adapter) PushWorkOrderCost(ctx context.Context, payload map[string]any) error {
	return a.do(ctx, http.MethodPost, a.url("work_order_costs"), payload, nil)
}
