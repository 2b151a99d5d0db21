package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"linecare/internal/events"
	"linecare/internal/httpclient"
	"linecare/internal/integrations/factory"
	"linecare/internal/jobs"
	"linecare/internal/model"
	"linecare/internal/notifications"
	"linecare/internal/orchestrator"
	"linecare/internal/store"
	"linecare/internal/webhooks"
)

type testEnv struct {
	srv    *Server
	mem    *store.Memory
	queue  *jobs.MemoryQueue
	broker *events.Memory
	h      http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t)
	mem := store.NewMemory()
	q := jobs.NewMemoryQueue()
	broker := events.NewMemory()
	hc := httpclient.New(httpclient.DefaultConfig(), log)
	f := factory.New()
	disp := webhooks.NewDispatcher(mem, q, hc, webhooks.Config{}, log)
	pub := webhooks.NewPublisher(mem, disp, log)
	orch := orchestrator.New(mem, f, orchestrator.Options{HTTP: hc, Events: broker, Webhook: pub, Logger: log})
	notify := notifications.NewDispatcher(mem, q, notifications.NewService(log), log)
	s := &Server{
		Store:     mem,
		Factory:   f,
		Orch:      orch,
		Syncs:     orchestrator.NewJobs(orch, q, notify, orchestrator.JobConfig{}),
		Webhooks:  disp,
		Publisher: pub,
		Notify:    notify,
		Broker:    broker,
		Logger:    log,
	}
	return &testEnv{srv: s, mem: mem, queue: q, broker: broker, h: s.Routes()}
}

func (e *testEnv) do(t *testing.T, method, path, company string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil { require.NoError(t, json.NewEncoder(&buf).Encode(body)) }
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if company != "" { req.Header.Set("X-Company-Id", company) }
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

func (e *testEnv) integration(t *testing.T, company string, cfg map[string]any) model.Integration {
	t.Helper()
	in, err := e.mem.CreateIntegration(context.Background(), model.Integration{CompanyID: company, Provider: "Generic", Name: "erp", Enabled: true, Config: cfg})
	require.NoError(t, err)
	return in
}

func TestHealthReady(t *testing.T) {
	e := newTestServer(t)
	rr := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)
	rr = e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, 200, rr.Code)
	rr = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, 200, rr.Code)
}

func TestMissingCompanyIsProblem(t *testing.T) {
	e := newTestServer(t)
	rr := e.do(t, http.MethodGet, "/v1/integrations", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p Problem
	decode(t, rr, &p)
	assert.Equal(t, "Missing company", p.Title)
}

func TestIntegrationsListAndProviders(t *testing.T) {
	e := newTestServer(t)
	e.integration(t, "co-1", nil)
	e.integration(t, "co-2", nil)

	rr := e.do(t, http.MethodGet, "/v1/integrations", "co-1", nil)
	require.Equal(t, 200, rr.Code)
	var list struct{ Items []model.Integration }
	decode(t, rr, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "co-1", list.Items[0].CompanyID)
	assert.NotContains(t, rr.Body.String(), "api_key")

	rr = e.do(t, http.MethodGet, "/v1/integrations/providers", "", nil)
	require.Equal(t, 200, rr.Code)
	var prov struct{ Providers, Actions []string }
	decode(t, rr, &prov)
	assert.Equal(t, []string{"Generic", "SAP", "NetSuite", "Microsoft Dynamics 365", "Odoo"}, prov.Providers)
	assert.Contains(t, prov.Actions, "all")
}

func TestValidateAndTestConnection(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && r.Header.Get("Authorization") == "Bearer k" {
			w.WriteHeader(200)
			return
		}
		w.WriteHeader(401)
	}))
	defer remote.Close()
	e := newTestServer(t)
	bad := e.integration(t, "co-1", map[string]any{"api_url": remote.URL})
	good := e.integration(t, "co-1", map[string]any{"api_url": remote.URL, "api_key": "k"})

	rr := e.do(t, http.MethodGet, "/v1/integrations/"+bad.ID+"/validate", "co-1", nil)
	require.Equal(t, 200, rr.Code)
	var v struct {
		Valid  bool
		Errors []string
	}
	decode(t, rr, &v)
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"missing required config key: api_key"}, v.Errors)

	rr = e.do(t, http.MethodPost, "/v1/integrations/"+good.ID+"/test", "co-1", nil)
	require.Equal(t, 200, rr.Code)
	var c struct{ Success bool }
	decode(t, rr, &c)
	assert.True(t, c.Success)

	rr = e.do(t, http.MethodPost, "/v1/integrations/"+bad.ID+"/test", "co-1", nil)
	decode(t, rr, &c)
	assert.False(t, c.Success)

	rr = e.do(t, http.MethodGet, "/v1/integrations/"+good.ID+"/validate", "co-2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSyncInlineAndLogs(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(201) }))
	defer remote.Close()
	e := newTestServer(t)
	e.mem.PutStock(model.StockRecord{CompanyID: "co-1", PartNumber: "P1", Quantity: 3})
	in := e.integration(t, "co-1", map[string]any{"api_url": remote.URL, "api_key": "k"})

	rr := e.do(t, http.MethodPost, "/v1/integrations/"+in.ID+"/sync?wait=true", "co-1", map[string]any{"action": "sync_inventory"})
	require.Equal(t, 200, rr.Code, rr.Body.String())
	var res model.SyncResult
	decode(t, rr, &res)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Succeeded)

	rr = e.do(t, http.MethodGet, "/v1/integrations/"+in.ID+"/logs?action=sync_inventory&limit=5", "co-1", nil)
	require.Equal(t, 200, rr.Code)
	var logs struct{ Items []model.IntegrationLog }
	decode(t, rr, &logs)
	require.Len(t, logs.Items, 1)
	assert.Equal(t, model.StatusSuccess, logs.Items[0].Status)
}

func TestSyncQueuedAndRejected(t *testing.T) {
	e := newTestServer(t)
	in := e.integration(t, "co-1", map[string]any{"api_url": "http://erp", "api_key": "k"})

	rr := e.do(t, http.MethodPost, "/v1/integrations/"+in.ID+"/sync", "co-1", nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	var out struct {
		JobID  string
		Action string
	}
	decode(t, rr, &out)
	assert.NotEmpty(t, out.JobID)
	assert.Equal(t, "all", out.Action)
	assert.Equal(t, 1, e.queue.Len())

	rr = e.do(t, http.MethodPost, "/v1/integrations/"+in.ID+"/sync", "co-1", map[string]any{"action": "sync_everything"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Action must be one of")

	rr = e.do(t, http.MethodPost, "/v1/integrations/nope/sync", "co-1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = e.do(t, http.MethodGet, "/v1/integrations/"+in.ID+"/sync", "co-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestEventsQueueDeliveriesAndRetry(t *testing.T) {
	e := newTestServer(t)
	e.mem.PutWebhookEndpoint(model.WebhookEndpoint{CompanyID: "co-1", URL: "http://hooks.example", Active: true})

	rr := e.do(t, http.MethodPost, "/v1/events", "co-1", map[string]any{"event": "work_order.completed", "data": map[string]any{"id": "wo-1"}})
	require.Equal(t, http.StatusAccepted, rr.Code)
	var out struct{ Deliveries []string }
	decode(t, rr, &out)
	require.Len(t, out.Deliveries, 1)

	rr = e.do(t, http.MethodGet, "/v1/admin/webhook-deliveries?status=pending", "co-1", nil)
	require.Equal(t, 200, rr.Code)
	var list struct{ Items []model.WebhookDelivery }
	decode(t, rr, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "work_order.completed", list.Items[0].Event)

	rr = e.do(t, http.MethodPost, "/v1/admin/webhook-deliveries/"+out.Deliveries[0]+"/retry", "co-1", nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	rr = e.do(t, http.MethodPost, "/v1/admin/webhook-deliveries/"+out.Deliveries[0]+"/retry", "co-2", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/events", "co-1", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotificationsEnqueue(t *testing.T) {
	e := newTestServer(t)
	rr := e.do(t, http.MethodPost, "/v1/notifications", "co-1", map[string]any{"recipientId": "u1", "message": map[string]any{"subject": "hi"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Message.Body is required")

	rr = e.do(t, http.MethodPost, "/v1/notifications", "co-1", map[string]any{
		"filter":  map[string]any{"role": "admin"},
		"message": map[string]any{"subject": "PM overdue", "body": "3 tasks overdue"},
	})
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, e.queue.Len())
}

func TestEventsWebsocketStream(t *testing.T) {
	e := newTestServer(t)
	ts := httptest.NewServer(e.h)
	defer ts.Close()

	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws?companyId=co-1&types=sync."
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))

	var ack map[string]string
	require.NoError(t, c.ReadJSON(&ack))
	assert.Equal(t, "connection_ack", ack["type"])

	e.broker.Publish("co-1", events.Event{Type: events.TypeJobStarted})
	e.broker.Publish("co-2", events.Event{Type: events.TypeSyncFinished})
	e.broker.Publish("co-1", events.Event{Type: events.TypeSyncFinished, Data: map[string]any{"integration_id": "i1"}})

	var evt events.Event
	require.NoError(t, c.ReadJSON(&evt))
	assert.Equal(t, events.TypeSyncFinished, evt.Type)
	assert.Equal(t, "i1", evt.Data["integration_id"])
}
