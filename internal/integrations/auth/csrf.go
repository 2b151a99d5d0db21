package auth

import (
	"errors"
	"net/http"
	"sync"

	"linecare/internal/httpclient"
)

// ErrNoCSRFToken is returned when the server answers the fetch without a token.
var ErrNoCSRFToken = errors.New("server returned no x-csrf-token")

// CSRFToken implements the SAP gateway handshake: a HEAD request with "x-csrf-token: Fetch"
// returns a token that must accompany every modifying request. The token is fetched lazily
// and reused until Invalidate. The HTTP client should carry a cookie jar since SAP binds
// the token to the session cookie.
type CSRFToken struct {
	FetchURL string
	HTTP     *httpclient.Client
	// Base authenticates the fetch itself (Basic or Bearer plus sap-client).
	Base Strategy

	mu    sync.Mutex
	token string
}

func (c *CSRFToken) Apply(req *http.Request) error {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		return nil
	}
	tok, err := c.get(req)
	if err != nil { return err }
	req.Header.Set("x-csrf-token", tok)
	return nil
}

func (c *CSRFToken) get(orig *http.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" { return c.token, nil }

	req, err := http.NewRequestWithContext(orig.Context(), http.MethodHead, c.FetchURL, nil)
	if err != nil { return "", err }
	req.Header.Set("x-csrf-token", "Fetch")
	var opts []httpclient.RequestOption
	if c.Base != nil { opts = append(opts, c.Base.Apply) }
	resp, err := c.HTTP.Do(orig.Context(), req, opts...)
	if err != nil { return "", err }
	if !resp.OK() {
		return "", &httpclient.StatusError{Method: http.MethodHead, URL: c.FetchURL, StatusCode: resp.StatusCode, Body: []byte("csrf token fetch failed")}
	}
	tok := resp.Header.Get("x-csrf-token")
	if tok == "" || tok == "Required" { return "", ErrNoCSRFToken }
	c.token = tok
	return tok, nil
}

// Invalidate drops the cached token, e.g. after a 403 with "x-csrf-token: Required".
func (c *CSRFToken) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// CSRFRejected reports whether resp asks for a fresh token.
func CSRFRejected(resp *httpclient.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusForbidden && resp.Header.Get("x-csrf-token") == "Required"
}
