package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoJSONInjectsHeaders(t *testing.T) {
	var gotUA, gotTenant, gotAuth, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA, gotTenant, gotAuth, gotCT = r.UserAgent(), r.Header.Get("X-Tenant"), r.Header.Get("Authorization"), r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Headers = map[string]string{"X-Tenant": "t1"}
	c := New(cfg, nil)
	var out struct{ OK bool `json:"ok"` }
	resp, err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]any{"a": 1}, &out, Header("Authorization", "Bearer x"))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, out.OK)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Equal(t, "t1", gotTenant)
	assert.Equal(t, "Bearer x", gotAuth)
	assert.Equal(t, "application/json", gotCT)
}

func TestDoJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(DefaultConfig(), nil).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Contains(t, se.Error(), "nope")
}

func TestOptionErrorStopsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	boom := errors.New("no token")
	_, err := New(DefaultConfig(), nil).DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, func(*http.Request) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, called)
}

func TestCookieJarKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "abc", Path: "/"})
			return
		}
		if c, err := r.Cookie("session_id"); err == nil && c.Value == "abc" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(DefaultConfig(), nil).WithCookieJar()
	_, err := c.DoJSON(context.Background(), http.MethodPost, srv.URL+"/login", nil, nil)
	require.NoError(t, err)
	_, err = c.DoJSON(context.Background(), http.MethodGet, srv.URL+"/data", nil, nil)
	require.NoError(t, err)
}
