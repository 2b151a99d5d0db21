package netsuite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linecare/internal/integrations"
	"linecare/internal/model"
	"linecare/internal/store"
)

func cfg(extra map[string]any) map[string]any {
	c := map[string]any{"account_id": "1234567_SB1", "consumer_key": "ck", "consumer_secret": "cs", "token_id": "tk", "token_secret": "ts"}
	for k, v := range extra { c[k] = v }
	return c
}

func TestBaseURLFromAccount(t *testing.T) {
	assert.Equal(t, "https://1234567-sb1.suitetalk.api.netsuite.com/services/rest/record/v1", BaseURL(model.Integration{Config: cfg(nil)}))
	assert.Equal(t, "http://local", BaseURL(model.Integration{Config: cfg(map[string]any{"api_url": "http://local"})}))
}

func TestValidateEveryMissingKey(t *testing.T) {
	v := New(integrations.Deps{Integration: model.Integration{Config: map[string]any{"account_id": "1"}}}).ValidateConfig()
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 4)
	assert.True(t, New(integrations.Deps{Integration: model.Integration{Config: cfg(nil)}}).ValidateConfig().Valid)
}

func TestRequestsAreSigned(t *testing.T) {
	var headers []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Get("Authorization"))
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"items":[{"tranId":"PO-1","status":{"refName":"Pending Receipt"},"total":10,"lastModifiedDate":"2030-01-01T00:00:00Z"}]}`))
		}
	}))
	defer srv.Close()

	mem := store.NewMemory()
	po := mem.PutPurchaseOrder(model.PurchaseOrder{CompanyID: "c1", ExternalRef: "PO-1"})
	mem.PutStock(model.StockRecord{CompanyID: "c1", PartNumber: "P"})
	a := New(integrations.Deps{Integration: model.Integration{CompanyID: "c1", Config: cfg(map[string]any{"api_url": srv.URL})}, Local: mem})

	res := a.Sync(context.Background(), model.ActionAll)
	assert.True(t, res.Success, res.Message)
	require.Len(t, headers, 2)
	for _, h := range headers {
		assert.True(t, strings.HasPrefix(h, `OAuth oauth_consumer_key="ck", oauth_token="tk", oauth_signature_method="HMAC-SHA256"`), h)
		assert.True(t, strings.HasSuffix(h, `realm="1234567_SB1"`), h)
	}
	assert.NotEqual(t, headers[0], headers[1])
	got, _ := mem.PurchaseOrder(po.ID)
	assert.Equal(t, "Pending Receipt", got.Status)
}
