package dynamics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linecare/internal/cache"
	"linecare/internal/integrations"
	"linecare/internal/model"
	"linecare/internal/store"
)

func TestTokenCachedAcrossSyncs(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		_, _ = w.Write([]byte(`{"access_token":"aad-token","expires_in":3600}`))
	})
	mux.HandleFunc("/api/data/v9.2/msdyn_inventoryjournals", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer aad-token" || r.Header.Get("OData-Version") != "4.0" || r.Header.Get("OData-MaxVersion") != "4.0" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := cache.NewMemory()
	tokens.Now = func() time.Time { return now }
	mem := store.NewMemory()
	mem.PutStock(model.StockRecord{CompanyID: "c1", PartNumber: "P1"}, model.StockRecord{CompanyID: "c1", PartNumber: "P2"})
	in := model.Integration{ID: "i1", CompanyID: "c1", Config: map[string]any{
		"tenant_id": "contoso", "client_id": "cid", "client_secret": "sec", "resource_url": srv.URL, "token_url": srv.URL + "/token",
	}}
	newAdapter := func() integrations.Adapter {
		return New(integrations.Deps{Integration: in, Local: mem, Tokens: tokens})
	}

	for i := 0; i < 2; i++ {
		res := newAdapter().Sync(context.Background(), model.ActionSyncInventory)
		require.True(t, res.Success, res.Message)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokenCalls))

	now = now.Add(59 * time.Minute)
	res := newAdapter().Sync(context.Background(), model.ActionSyncInventory)
	require.True(t, res.Success, res.Message)
	assert.EqualValues(t, 2, atomic.LoadInt32(&tokenCalls))
}

func TestTokenFailureFailsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_request"}`))
	}))
	defer srv.Close()
	mem := store.NewMemory()
	mem.PutStock(model.StockRecord{CompanyID: "c1", PartNumber: "P1"})
	a := New(integrations.Deps{Integration: model.Integration{ID: "i2", CompanyID: "c1", Config: map[string]any{"resource_url": srv.URL, "token_url": srv.URL}}, Local: mem})

	res := a.Sync(context.Background(), model.ActionSyncInventory)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors[0].Error, "invalid_request")

	conn := a.TestConnection(context.Background())
	assert.False(t, conn.Success)
}

func TestValidate(t *testing.T) {
	v := New(integrations.Deps{Integration: model.Integration{Config: map[string]any{"tenant_id": "t"}}}).ValidateConfig()
	assert.Equal(t, []string{
		"missing required config key: client_id",
		"missing required config key: client_secret",
		"missing required config key: resource_url",
	}, v.Errors)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://x.crm.dynamics.com/api/data/v9.2", BaseURL(model.Integration{Config: map[string]any{"resource_url": "https://x.crm.dynamics.com/"}}))
}
