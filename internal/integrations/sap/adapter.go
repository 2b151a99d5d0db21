// Package sap talks to SAP S/4HANA and ECC OData gateways.
package sap

import (
	"context"
	"net/http"

	"linecare/internal/httpclient"
	"linecare/internal/integrations"
	"linecare/internal/integrations/auth"
	"linecare/internal/integrations/mapping"
	"linecare/internal/model"
)

const Name = "SAP"

type Adapter struct {
	deps  integrations.Deps
	m     *mapping.Mapping
	batch *integrations.Batch
	http  *httpclient.Client
	base  auth.Strategy
	csrf  *auth.CSRFToken
}

func New(d integrations.Deps) integrations.Adapter {
	d = d.WithDefaults()
	m := mapping.MustLoad("sap")
	a := &Adapter{deps: d, m: m, batch: integrations.NewBatch(Name, d, m), http: d.HTTP.WithCookieJar()}
	in := d.Integration

	// OAuth bearer wins over Basic when both are configured.
	var cred auth.Strategy = auth.Basic{Username: in.ConfigString("username"), Password: in.ConfigString("password")}
	if tok := in.ConfigString("oauth_token"); tok != "" {
		cred = auth.Bearer{Token: tok}
	}
	a.base = auth.Chain{cred, auth.Headers{"sap-client": in.ConfigString("client")}}
	a.csrf = &auth.CSRFToken{FetchURL: a.url("csrf", "/sap/opu/odata/sap/"), HTTP: a.http, Base: a.base}
	return a
}

func (a *Adapter) Provider() string { return Name }

func (a *Adapter) ValidateConfig() integrations.ValidationResult {
	in := a.deps.Integration
	errs := integrations.RequireKeys(in, "api_url", "client")
	if in.ConfigString("oauth_token") == "" {
		if in.ConfigString("username") == "" || in.ConfigString("password") == "" {
			errs = append(errs, "missing credential: set oauth_token, or username and password")
		}
	}
	return integrations.Validation(errs...)
}

func (a *Adapter) url(name, def string) string {
	return integrations.JoinURL(a.deps.Integration.ConfigString("api_url"), a.m.Path(name, def))
}

// send applies credentials and the CSRF token; a rejected token is refreshed once.
func (a *Adapter) send(ctx context.Context, method, url string, body, out any) error {
	chain := auth.Chain{a.base, a.csrf}
	resp, err := a.http.DoJSON(ctx, method, url, body, out, chain.Apply)
	if err != nil && auth.CSRFRejected(resp) {
		a.csrf.Invalidate()
		_, err = a.http.DoJSON(ctx, method, url, body, out, chain.Apply)
	}
	return err
}

func (a *Adapter) TestConnection(ctx context.Context) integrations.ConnectionResult {
	if err := a.send(ctx, http.MethodGet, a.url("test", "/sap/opu/odata/sap/"), nil, nil); err != nil {
		return integrations.Unreachable(Name, err)
	}
	return integrations.Connected(Name)
}

func (a *Adapter) Sync(ctx context.Context, action model.Action) model.SyncResult {
	return a.batch.Run(ctx, action, a)
}

func (a *Adapter) PushInventory(ctx context.Context, payload map[string]any) error {
	return a.send(ctx, http.MethodPost, a.url("inventory", ""), payload, nil)
}

func (a *Adapter) FetchPurchaseOrders(ctx context.Context) ([]any, error) {
	var body any
	if err := a.send(ctx, http.MethodGet, a.url("purchase_orders", ""), nil, &body); err != nil {
		return nil, err
	}
	return a.m.PurchaseOrder.Items(Unwrap(body))
}

func (a *Adapter) PushWorkOrderCost(ctx context.Context, payload map[string]any) error {
	return a.send(ctx, http.MethodPost, a.url("work_order_costs", ""), payload, nil)
}

// Unwrap strips the OData v2 "d" envelope.
func Unwrap(body any) any {
	if m, ok := body.(map[string]any); ok {
		if d, ok := m["d"]; ok { return d }
	}
	return body
}
