package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"linecare/internal/events"
	"linecare/internal/integrations"
	"linecare/internal/integrations/factory"
	"linecare/internal/jobs"
	"linecare/internal/model"
	"linecare/internal/notifications"
	"linecare/internal/store"
	"linecare/internal/webhooks"
)

// scripted is an adapter whose per-action results are set by the test.
type scripted struct {
	results map[model.Action]model.SyncResult
	panics  model.Action
	invalid []string
	mu      sync.Mutex
	ran     []model.Action
}

func (s *scripted) Provider() string { return "Scripted" }
func (s *scripted) TestConnection(context.Context) integrations.ConnectionResult {
	return integrations.Connected("Scripted")
}
func (s *scripted) ValidateConfig() integrations.ValidationResult { return integrations.Validation(s.invalid...) }
func (s *scripted) Sync(ctx context.Context, a model.Action) model.SyncResult {
	s.mu.Lock()
	s.ran = append(s.ran, a)
	s.mu.Unlock()
	if a == s.panics { panic("remote exploded") }
	if r, ok := s.results[a]; ok { return r }
	return model.SyncResult{Action: a, Success: true, Message: "ok", Processed: 1, Succeeded: 1}
}

type emitted struct {
	company, event string
	data           any
}

type fakeEmitter struct {
	mu  sync.Mutex
	got []emitted
}

func (f *fakeEmitter) Emit(ctx context.Context, companyID, event string, data any) ([]model.WebhookDelivery, error) {
	f.mu.Lock(); defer f.mu.Unlock()
	f.got = append(f.got, emitted{companyID, event, data})
	return nil, nil
}

type harness struct {
	mem     *store.Memory
	adapter *scripted
	emit    *fakeEmitter
	broker  *events.Memory
	orch    *Orchestrator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{mem: store.NewMemory(), adapter: &scripted{results: map[model.Action]model.SyncResult{}}, emit: &fakeEmitter{}, broker: events.NewMemory()}
	f := factory.New()
	f.Register("Scripted", func(integrations.Deps) integrations.Adapter { return h.adapter })
	opts.Logger = zaptest.NewLogger(t)
	opts.Webhook = h.emit
	opts.Events = h.broker
	h.orch = New(h.mem, f, opts)
	return h
}

func (h *harness) integration(t *testing.T, provider string, enabled bool, cfg map[string]any) model.Integration {
	t.Helper()
	in, err := h.mem.CreateIntegration(context.Background(), model.Integration{CompanyID: "co-1", Provider: provider, Name: "erp", Enabled: enabled, Config: cfg})
	require.NoError(t, err)
	return in
}

func logs(t *testing.T, s store.Store, id string) []model.IntegrationLog {
	t.Helper()
	ls, err := s.ListIntegrationLogs(context.Background(), id, store.LogFilter{})
	require.NoError(t, err)
	return ls
}

func TestRun_GenericInventoryPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["part_number"] == "P2" || body["part_number"] == "P4" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t, Options{})
	for _, p := range []string{"P1", "P2", "P3", "P4", "P5"} {
		h.mem.PutStock(model.StockRecord{CompanyID: "co-1", PartNumber: p, Quantity: 1})
	}
	in := h.integration(t, "Generic", true, map[string]any{"api_url": srv.URL, "api_key": "k"})

	res, err := h.orch.Run(context.Background(), in.ID, model.ActionSyncInventory)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "P2", res.Errors[0].Key)

	ls := logs(t, h.mem, in.ID)
	require.Len(t, ls, 1)
	assert.Equal(t, model.StatusError, ls[0].Status)
	assert.Equal(t, 2, ls[0].Failed)

	got, _ := h.mem.GetIntegration(context.Background(), in.ID)
	assert.Equal(t, model.StatusError, got.LastSyncStatus)
	require.NotNil(t, got.LastSyncAt)
	require.Len(t, h.emit.got, 1)
	assert.Equal(t, webhooks.EventSyncFailed, h.emit.got[0].event)
}

func TestRun_AllWritesOneLogPerAction(t *testing.T) {
	h := newHarness(t, Options{})
	in := h.integration(t, "Scripted", true, nil)

	res, err := h.orch.Run(context.Background(), in.ID, model.ActionAll)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, model.ActionAll, res.Action)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, model.ConcreteActions, h.adapter.ran)

	ls := logs(t, h.mem, in.ID)
	require.Len(t, ls, 3)
	assert.Equal(t, model.ActionSyncWorkOrderCosts, ls[0].Action, "newest first")
	got, _ := h.mem.GetIntegration(context.Background(), in.ID)
	assert.Equal(t, model.StatusSuccess, got.LastSyncStatus)
	assert.Equal(t, webhooks.EventSyncCompleted, h.emit.got[0].event)
}

func TestRun_AllFailsWhenAnySubActionFails(t *testing.T) {
	h := newHarness(t, Options{})
	h.adapter.results[model.ActionSyncPurchaseOrders] = model.FailedResult(model.ActionSyncPurchaseOrders, "fetch purchase orders: 503")
	in := h.integration(t, "Scripted", true, nil)

	res, err := h.orch.Run(context.Background(), in.ID, model.ActionAll)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Len(t, h.adapter.ran, 3, "later actions still run")

	statuses := map[model.Action]string{}
	for _, l := range logs(t, h.mem, in.ID) { statuses[l.Action] = l.Status }
	assert.Equal(t, model.StatusSuccess, statuses[model.ActionSyncInventory])
	assert.Equal(t, model.StatusError, statuses[model.ActionSyncPurchaseOrders])
	assert.Equal(t, model.StatusSuccess, statuses[model.ActionSyncWorkOrderCosts])

	got, _ := h.mem.GetIntegration(context.Background(), in.ID)
	assert.Equal(t, model.StatusError, got.LastSyncStatus)
	assert.Contains(t, got.LastSyncMessage, "sync_purchase_orders: fetch purchase orders: 503")
}

func TestRun_PanicBecomesFailedResult(t *testing.T) {
	h := newHarness(t, Options{})
	h.adapter.panics = model.ActionSyncInventory
	in := h.integration(t, "Scripted", true, nil)

	res, err := h.orch.Run(context.Background(), in.ID, model.ActionSyncInventory)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.Processed)
	assert.Equal(t, "remote exploded", res.Message)

	ls := logs(t, h.mem, in.ID)
	require.Len(t, ls, 1)
	assert.Equal(t, model.StatusError, ls[0].Status)
	assert.Equal(t, "remote exploded", ls[0].Message)
	got, _ := h.mem.GetIntegration(context.Background(), in.ID)
	assert.Equal(t, model.StatusError, got.LastSyncStatus)
}

func TestRun_InvalidConfigSkipsNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { atomic.AddInt32(&hits, 1) }))
	defer srv.Close()
	h := newHarness(t, Options{})
	h.mem.PutStock(model.StockRecord{CompanyID: "co-1", PartNumber: "P1"})
	in := h.integration(t, "Generic", true, map[string]any{"api_url": srv.URL})

	res, err := h.orch.Run(context.Background(), in.ID, model.ActionAll)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "missing required config key: api_key")
	assert.Zero(t, atomic.LoadInt32(&hits))

	ls := logs(t, h.mem, in.ID)
	require.Len(t, ls, 1)
	assert.Equal(t, model.StatusError, ls[0].Status)
	got, _ := h.mem.GetIntegration(context.Background(), in.ID)
	assert.Equal(t, model.StatusError, got.LastSyncStatus)
}

func TestRun_RefusesToStart(t *testing.T) {
	h := newHarness(t, Options{})
	off := h.integration(t, "Scripted", false, nil)

	_, err := h.orch.Run(context.Background(), off.ID, model.ActionAll)
	assert.ErrorIs(t, err, ErrIntegrationDisabled)
	_, err = h.orch.Run(context.Background(), "missing", model.ActionAll)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = h.orch.Run(context.Background(), off.ID, "sync_everything")
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Empty(t, logs(t, h.mem, off.ID))
	assert.Empty(t, h.adapter.ran)
}

func TestRun_LockingRejectsOverlap(t *testing.T) {
	locker := NewMemoryLocker()
	h := newHarness(t, Options{Locker: locker})
	in := h.integration(t, "Scripted", true, nil)

	release, err := locker.Acquire(context.Background(), in.ID, time.Minute)
	require.NoError(t, err)
	_, err = h.orch.Run(context.Background(), in.ID, model.ActionSyncInventory)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	release()
	_, err = h.orch.Run(context.Background(), in.ID, model.ActionSyncInventory)
	require.NoError(t, err)
	// released after the run
	_, err = h.orch.Run(context.Background(), in.ID, model.ActionSyncInventory)
	require.NoError(t, err)
}

func TestRun_PublishesSyncFinished(t *testing.T) {
	h := newHarness(t, Options{})
	ch := h.broker.Subscribe("co-1")
	defer h.broker.Unsubscribe("co-1", ch)
	in := h.integration(t, "Scripted", true, nil)

	_, err := h.orch.Run(context.Background(), in.ID, model.ActionSyncWorkOrderCosts)
	require.NoError(t, err)
	evt := <-ch
	assert.Equal(t, events.TypeSyncFinished, evt.Type)
	assert.Equal(t, in.ID, evt.Data["integration_id"])
	assert.Equal(t, true, evt.Data["success"])
}

func TestRun_CancelledContextReportsError(t *testing.T) {
	h := newHarness(t, Options{})
	in := h.integration(t, "Scripted", true, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.Run(ctx, in.ID, model.ActionSyncInventory)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, logs(t, h.mem, in.ID), 1, "the log row is written anyway")
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.RecipientFilter
	msgs []notifications.Message
}

func (f *fakeNotifier) SendBulk(ctx context.Context, companyID string, flt model.RecipientFilter, msg notifications.Message) (string, error) {
	f.mu.Lock(); defer f.mu.Unlock()
	f.sent = append(f.sent, flt)
	f.msgs = append(f.msgs, msg)
	return "job", nil
}

func drain(t *testing.T, q *jobs.MemoryQueue, p *jobs.Pool) {
	t.Helper()
	for q.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		env, err := q.Dequeue(ctx)
		cancel()
		require.NoError(t, err)
		p.Process(context.Background(), env)
	}
}

func TestSyncJob_RunsAndExhausts(t *testing.T) {
	locker := NewMemoryLocker()
	h := newHarness(t, Options{Locker: locker})
	in := h.integration(t, "Scripted", true, nil)
	q := jobs.NewMemoryQueue()
	pool := jobs.NewPool(q, jobs.PoolConfig{WorkerCount: 1}, nil, zaptest.NewLogger(t))
	n := &fakeNotifier{}
	sj := NewJobs(h.orch, q, n, JobConfig{Backoff: time.Millisecond})
	sj.Register(pool)

	env, err := sj.Enqueue(context.Background(), in.ID, model.ActionSyncInventory)
	require.NoError(t, err)
	assert.Equal(t, 3, env.MaxAttempts)
	assert.Equal(t, 300*time.Second, env.Timeout)
	assert.Equal(t, time.Hour, env.RetryFor)
	assert.Equal(t, "co-1", env.CompanyID)
	drain(t, q, pool)
	assert.Len(t, h.adapter.ran, 1)
	assert.Empty(t, n.sent)

	// held lock makes every attempt fail until retries run out
	_, err = locker.Acquire(context.Background(), in.ID, time.Hour)
	require.NoError(t, err)
	_, err = sj.Enqueue(context.Background(), in.ID, model.ActionAll)
	require.NoError(t, err)
	drain(t, q, pool)

	require.Len(t, n.sent, 1)
	assert.Equal(t, AdminRole, n.sent[0].Role)
	assert.Equal(t, model.RecipientUser, n.sent[0].Type)
	got, _ := h.mem.GetIntegration(context.Background(), in.ID)
	assert.Equal(t, model.StatusError, got.LastSyncStatus)
	assert.Contains(t, got.LastSyncMessage, ErrSyncInProgress.Error())
}

func TestSyncJob_EnqueueValidation(t *testing.T) {
	h := newHarness(t, Options{})
	off := h.integration(t, "Scripted", false, nil)
	on := h.integration(t, "Scripted", true, nil)
	q := jobs.NewMemoryQueue()
	sj := NewJobs(h.orch, q, nil, JobConfig{})

	_, err := sj.Enqueue(context.Background(), off.ID, model.ActionAll)
	assert.ErrorIs(t, err, ErrIntegrationDisabled)
	_, err = sj.Enqueue(context.Background(), on.ID, "bogus")
	assert.ErrorIs(t, err, ErrUnknownAction)

	n, err := sj.EnqueueAll(context.Background(), model.ActionAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, q.Len())
}
