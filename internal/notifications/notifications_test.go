package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"linecare/internal/httpclient"
	"linecare/internal/jobs"
	"linecare/internal/model"
	"linecare/internal/store"
)

type fakeChannel struct {
	name string
	mu   sync.Mutex
	sent []string
	fail map[string]bool
}

func (f *fakeChannel) Name() string { return f.name }
func (f *fakeChannel) Send(ctx context.Context, r model.Recipient, msg Message) error {
	f.mu.Lock(); defer f.mu.Unlock()
	if f.fail[r.ID] { return errors.New("gateway down") }
	f.sent = append(f.sent, r.ID)
	return nil
}

type fakeWriter struct{ msgs []kafka.Message }

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestNotify_AggregatesAcrossChannels(t *testing.T) {
	mail := &fakeChannel{name: ChannelMail, fail: map[string]bool{"r2": true}}
	sms := &fakeChannel{name: ChannelSMS}
	svc := NewService(zaptest.NewLogger(t), mail, sms)
	assert.Equal(t, []string{"mail", "sms"}, svc.Channels())

	rs := []model.Recipient{
		{ID: "r1", Channels: []string{"mail", "sms"}},
		{ID: "r2", Channels: []string{"Mail"}},
		{ID: "r3", Email: "r3@example.com"},
		{ID: "r4", Channels: []string{"fax"}},
		{ID: "r5"},
	}
	rep := svc.NotifyAll(context.Background(), rs, Message{Subject: "s", Body: "b"})

	assert.Equal(t, 5, rep.Recipients)
	assert.Equal(t, 3, rep.Sent)
	assert.Equal(t, 3, rep.Failed)
	assert.Len(t, rep.Errors, 3)
	assert.Equal(t, []string{"r1", "r3"}, mail.sent)
	assert.Equal(t, []string{"r1"}, sms.sent)
}

func TestMailChannel_PostsToSender(t *testing.T) {
	var got mailRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := &MailChannel{URL: srv.URL, Token: "tok", HTTP: httpclient.New(httpclient.DefaultConfig(), zaptest.NewLogger(t))}
	err := ch.Send(context.Background(), model.Recipient{ID: "r1", Name: "Ana", Email: "ana@example.com"}, Message{Subject: "PO approved", Body: "PO-7 approved"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, "ana@example.com", got.To)
	assert.Equal(t, "PO approved", got.Subject)

	assert.Error(t, ch.Send(context.Background(), model.Recipient{ID: "r2"}, Message{}))
}

func TestMailChannel_SenderErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(502) }))
	defer srv.Close()
	ch := &MailChannel{URL: srv.URL, HTTP: httpclient.New(httpclient.DefaultConfig(), nil)}
	err := ch.Send(context.Background(), model.Recipient{Email: "a@b.c"}, Message{Subject: "s", Body: "b"})
	var se *httpclient.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 502, se.StatusCode)
}

func TestKafkaChannel_Publishes(t *testing.T) {
	w := &fakeWriter{}
	ch := NewKafkaChannel(ChannelSMS, "notifications", w)
	require.NoError(t, ch.Send(context.Background(), model.Recipient{ID: "r1", CompanyID: "co-1", Phone: "+15550100"}, Message{Subject: "alert", Body: "pump 3 vibration"}))
	require.Error(t, ch.Send(context.Background(), model.Recipient{ID: "r2", CompanyID: "co-1"}, Message{}))

	require.Len(t, w.msgs, 1)
	m := w.msgs[0]
	assert.Equal(t, "notifications", m.Topic)
	assert.Equal(t, "co-1:r1", string(m.Key))
	var n kafkaNotification
	require.NoError(t, json.Unmarshal(m.Value, &n))
	assert.Equal(t, "+15550100", n.Phone)
	assert.Equal(t, "sms", n.Channel)
}

type jobHarness struct {
	mem   *store.Memory
	queue *jobs.MemoryQueue
	pool  *jobs.Pool
	disp  *Dispatcher
	mail  *fakeChannel
}

func newJobHarness(t *testing.T) *jobHarness {
	t.Helper()
	mem := store.NewMemory()
	q := jobs.NewMemoryQueue()
	log := zaptest.NewLogger(t)
	pool := jobs.NewPool(q, jobs.PoolConfig{WorkerCount: 1}, nil, log)
	mail := &fakeChannel{name: ChannelMail, fail: map[string]bool{}}
	d := NewDispatcher(mem, q, NewService(log, mail), log)
	d.Backoff = time.Millisecond
	d.Register(pool)
	return &jobHarness{mem: mem, queue: q, pool: pool, disp: d, mail: mail}
}

func (h *jobHarness) run(t *testing.T) {
	t.Helper()
	for h.queue.Len() > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		env, err := h.queue.Dequeue(ctx)
		cancel()
		require.NoError(t, err)
		h.pool.Process(context.Background(), env)
	}
}

func TestBulkJob_ContinuesPastFailures(t *testing.T) {
	h := newJobHarness(t)
	h.mem.PutRecipient(
		model.Recipient{ID: "a1", CompanyID: "co-1", Type: model.RecipientUser, Role: "admin", Email: "a1@x"},
		model.Recipient{ID: "a2", CompanyID: "co-1", Type: model.RecipientUser, Role: "admin", Email: "a2@x"},
		model.Recipient{ID: "t1", CompanyID: "co-1", Type: model.RecipientUser, Role: "technician", Email: "t1@x"},
		model.Recipient{ID: "a3", CompanyID: "co-2", Type: model.RecipientUser, Role: "admin", Email: "a3@x"},
	)
	h.mail.fail["a1"] = true

	_, err := h.disp.SendBulk(context.Background(), "co-1", model.RecipientFilter{Role: "admin"}, Message{Subject: "s", Body: "b"})
	require.NoError(t, err)
	h.run(t)

	assert.Equal(t, []string{"a2"}, h.mail.sent, "one attempt, a1 failure does not stop a2")
}

func TestSingleJob_RetriesWhenNothingSent(t *testing.T) {
	h := newJobHarness(t)
	h.mem.PutRecipient(model.Recipient{ID: "v1", CompanyID: "co-1", Type: model.RecipientVendor, Email: "v1@x"})
	h.mail.fail["v1"] = true
	var failed int
	h.pool.OnFailure(JobSingle, func(ctx context.Context, env jobs.Envelope, err error) {
		failed++
		assert.Equal(t, 3, env.Attempt)
	})

	_, err := h.disp.Send(context.Background(), "co-1", "v1", Message{Subject: "s", Body: "b"})
	require.NoError(t, err)
	h.run(t)
	assert.Equal(t, 1, failed)
}

func TestSingleJob_UnknownRecipientIsPermanent(t *testing.T) {
	h := newJobHarness(t)
	var got error
	h.pool.OnFailure(JobSingle, func(ctx context.Context, env jobs.Envelope, err error) { got = err })
	_, err := h.disp.Send(context.Background(), "co-1", "missing", Message{Subject: "s", Body: "b"})
	require.NoError(t, err)
	h.run(t)
	require.Error(t, got)
	assert.True(t, jobs.IsPermanent(got))
	assert.ErrorIs(t, got, store.ErrNotFound)
}

func TestBulkJob_ExpiredContextRetries(t *testing.T) {
	h := newJobHarness(t)
	h.mem.PutRecipient(model.Recipient{ID: "a1", CompanyID: "co-1", Type: model.RecipientUser, Role: "admin", Email: "a1@x"})
	env, err := jobs.New(bulkSpec, "co-1", bulkPayload{CompanyID: "co-1", Filter: model.RecipientFilter{Role: "admin"}, Message: Message{Subject: "s", Body: "b"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = h.disp.handleBulk(ctx, env)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, jobs.IsPermanent(err))
	assert.Empty(t, h.mail.sent)
}

func TestSingleJob_ExpiredContextRetries(t *testing.T) {
	h := newJobHarness(t)
	h.mem.PutRecipient(model.Recipient{ID: "v1", CompanyID: "co-1", Type: model.RecipientVendor, Email: "v1@x"})
	env, err := jobs.New(singleSpec, "co-1", singlePayload{CompanyID: "co-1", RecipientID: "v1", Message: Message{Subject: "s", Body: "b"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()
	err = h.disp.handleSingle(ctx, env)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// cancelAfter ends the job context once n sends went out.
type cancelAfter struct {
	fakeChannel
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Send(ctx context.Context, r model.Recipient, msg Message) error {
	if err := c.fakeChannel.Send(ctx, r, msg); err != nil { return err }
	c.mu.Lock()
	done := len(c.sent) >= c.n
	c.mu.Unlock()
	if done { c.cancel() }
	return nil
}

func TestBulkJob_InterruptedContinuesWithUnreached(t *testing.T) {
	mem := store.NewMemory()
	q := jobs.NewMemoryQueue()
	log := zaptest.NewLogger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mail := &cancelAfter{fakeChannel: fakeChannel{name: ChannelMail, fail: map[string]bool{}}, n: 2, cancel: cancel}
	d := NewDispatcher(mem, q, NewService(log, mail), log)
	var rs []model.Recipient
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		rs = append(rs, model.Recipient{ID: id, CompanyID: "co-1", Type: model.RecipientUser, Role: "admin", Email: id + "@x"})
	}
	mem.PutRecipient(rs...)
	env, err := jobs.New(bulkSpec, "co-1", bulkPayload{CompanyID: "co-1", Filter: model.RecipientFilter{Role: "admin"}, Message: Message{Subject: "s", Body: "b"}})
	require.NoError(t, err)

	require.NoError(t, d.handleBulk(ctx, env), "partial progress does not retry the whole job")
	assert.Equal(t, []string{"a1", "a2"}, mail.sent)
	require.Equal(t, 1, q.Len())

	dctx, dcancel := context.WithTimeout(context.Background(), time.Second)
	defer dcancel()
	next, err := q.Dequeue(dctx)
	require.NoError(t, err)
	var p bulkPayload
	require.NoError(t, next.Decode(&p))
	assert.Equal(t, []string{"a3", "a4"}, p.Filter.IDs)
}
