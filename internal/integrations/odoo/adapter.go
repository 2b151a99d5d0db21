// Package odoo talks to Odoo over JSON-RPC. Model calls ride the session cookie set at login.
package odoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"linecare/internal/httpclient"
	"linecare/internal/integrations"
	"linecare/internal/integrations/mapping"
	"linecare/internal/model"
)

const Name = "Odoo"

type Adapter struct {
	deps  integrations.Deps
	m     *mapping.Mapping
	batch *integrations.Batch
	http  *httpclient.Client

	seq atomic.Int64
	mu  sync.Mutex
	uid int64
}

func New(d integrations.Deps) integrations.Adapter {
	d = d.WithDefaults()
	m := mapping.MustLoad("odoo")
	return &Adapter{deps: d, m: m, batch: integrations.NewBatch(Name, d, m), http: d.HTTP.WithCookieJar()}
}

func (a *Adapter) Provider() string { return Name }

func (a *Adapter) ValidateConfig() integrations.ValidationResult {
	return integrations.Validation(integrations.RequireKeys(a.deps.Integration, "api_url", "database", "username", "password")...)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *rpcError) Error() string {
	if e.Data.Message != "" { return "odoo: " + e.Data.Message }
	return fmt.Sprintf("odoo: %s (code %d)", e.Message, e.Code)
}

type rpcResponse struct {
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
}

// call posts one JSON-RPC envelope to path and returns its result.
func (a *Adapter) call(ctx context.Context, path string, params any) (any, error) {
	req := rpcRequest{JSONRPC: "2.0", Method: "call", Params: params, ID: a.seq.Add(1)}
	var resp rpcResponse
	url := integrations.JoinURL(a.deps.Integration.ConfigString("api_url"), path)
	if _, err := a.http.DoJSON(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil { return nil, resp.Error }
	return resp.Result, nil
}

// login authenticates once per adapter; the session cookie and uid are reused.
func (a *Adapter) login(ctx context.Context) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uid > 0 { return a.uid, nil }
	in := a.deps.Integration
	res, err := a.call(ctx, "/web/session/authenticate", map[string]any{
		"db":       in.ConfigString("database"),
		"login":    in.ConfigString("username"),
		"password": in.ConfigString("password"),
	})
	if err != nil { return 0, err }
	m, _ := res.(map[string]any)
	uid, _ := m["uid"].(float64)
	if uid <= 0 { return 0, errors.New("odoo: authentication failed") }
	a.uid = int64(uid)
	return a.uid, nil
}

// sessionExpired reports whether Odoo rejected the session cookie.
func sessionExpired(err error) bool {
	var re *rpcError
	if !errors.As(err, &re) { return false }
	return re.Code == 100 || re.Data.Name == "odoo.http.SessionExpiredException"
}

// logout drops the cached uid so the next call authenticates again.
func (a *Adapter) logout(uid int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uid == uid { a.uid = 0 }
}

// callKW runs a model method through /web/dataset/call_kw on the session cookie.
// An expired session triggers one fresh login and retry.
func (a *Adapter) callKW(ctx context.Context, modelName, method string, args []any, kwargs map[string]any) (any, error) {
	if kwargs == nil { kwargs = map[string]any{} }
	params := map[string]any{"model": modelName, "method": method, "args": args, "kwargs": kwargs}
	for attempt := 0; ; attempt++ {
		uid, err := a.login(ctx)
		if err != nil { return nil, err }
		res, err := a.call(ctx, "/web/dataset/call_kw", params)
		if err == nil || attempt > 0 || !sessionExpired(err) { return res, err }
		a.logout(uid)
	}
}

func (a *Adapter) TestConnection(ctx context.Context) integrations.ConnectionResult {
	if _, err := a.login(ctx); err != nil {
		return integrations.Unreachable(Name, err)
	}
	return integrations.Connected(Name)
}

func (a *Adapter) Sync(ctx context.Context, action model.Action) model.SyncResult {
	return a.batch.Run(ctx, action, a)
}

func (a *Adapter) PushInventory(ctx context.Context, payload map[string]any) error {
	_, err := a.callKW(ctx, a.m.Path("inventory", "stock.quant"), "create", []any{payload}, nil)
	return err
}

func (a *Adapter) FetchPurchaseOrders(ctx context.Context) ([]any, error) {
	res, err := a.callKW(ctx, a.m.Path("purchase_orders", "purchase.order"), "search_read",
		[]any{[]any{}}, map[string]any{"fields": readFields(a.m.PurchaseOrder.Fields)})
	if err != nil { return nil, err }
	return a.m.PurchaseOrder.Items(res)
}

func (a *Adapter) PushWorkOrderCost(ctx context.Context, payload map[string]any) error {
	_, err := a.callKW(ctx, a.m.Path("work_order_costs", "account.analytic.line"), "create", []any{payload}, nil)
	return err
}

var plainField = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// readFields lists the native columns a mapping reads, for search_read.
func readFields(fields map[string]string) []string {
	out := []string{}
	for _, expr := range fields {
		if plainField.MatchString(expr) { out = append(out, expr) }
	}
	sort.Strings(out)
	return out
}
