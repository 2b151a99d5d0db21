// Package netsuite talks to the NetSuite SuiteTalk REST record API with token based auth.
package netsuite

import (
	"context"
	"net/http"
	"strings"

	"linecare/internal/integrations"
	"linecare/internal/integrations/auth"
	"linecare/internal/integrations/mapping"
	"linecare/internal/model"
)

const Name = "NetSuite"

type Adapter struct {
	deps  integrations.Deps
	m     *mapping.Mapping
	batch *integrations.Batch
	auth  auth.OAuth1
}

func New(d integrations.Deps) integrations.Adapter {
	d = d.WithDefaults()
	m := mapping.MustLoad("netsuite")
	in := d.Integration
	return &Adapter{
		deps:  d,
		m:     m,
		batch: integrations.NewBatch(Name, d, m),
		auth: auth.OAuth1{
			ConsumerKey:    in.ConfigString("consumer_key"),
			ConsumerSecret: in.ConfigString("consumer_secret"),
			Token:          in.ConfigString("token_id"),
			TokenSecret:    in.ConfigString("token_secret"),
			Realm:          strings.ToUpper(in.ConfigString("account_id")),
		},
	}
}

func (a *Adapter) Provider() string { return Name }

func (a *Adapter) ValidateConfig() integrations.ValidationResult {
	return integrations.Validation(integrations.RequireKeys(a.deps.Integration,
		"account_id", "consumer_key", "consumer_secret", "token_id", "token_secret")...)
}

// BaseURL derives the account REST host ("1234567_SB1" -> "1234567-sb1") unless api_url overrides it.
func BaseURL(in model.Integration) string {
	if u := in.ConfigString("api_url"); u != "" { return u }
	acct := strings.ReplaceAll(strings.ToLower(in.ConfigString("account_id")), "_", "-")
	return "https://" + acct + ".suitetalk.api.netsuite.com/services/rest/record/v1"
}

func (a *Adapter) url(name string) string {
	return integrations.JoinURL(BaseURL(a.deps.Integration), a.m.Path(name, ""))
}

func (a *Adapter) do(ctx context.Context, method, url string, body, out any) error {
	// a fresh timestamp and nonce per call
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
