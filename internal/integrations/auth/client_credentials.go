package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"linecare/internal/cache"
	"linecare/internal/httpclient"
	"linecare/internal/metrics"
)

const (
	// AzureTokenURL is the Azure AD v1 token endpoint; {tenant} is substituted.
	AzureTokenURL = "https://login.microsoftonline.com/{tenant}/oauth2/token"
	// DefaultTokenTTL stays under the usual 60 minute token lifetime.
	DefaultTokenTTL = 58 * time.Minute
)

// ClientCredentials fetches an OAuth 2.0 bearer token with grant_type=client_credentials
// and keeps it in a shared cache until shortly before it expires.
type ClientCredentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Resource     string
	// CacheKey scopes the cached token, normally to one integration.
	CacheKey string
	TTL      time.Duration
	Provider string

	Cache  cache.TokenCache
	HTTP   *httpclient.Client
	Logger *zap.Logger
}

func TenantTokenURL(tenant string) string {
	return strings.ReplaceAll(AzureTokenURL, "{tenant}", url.PathEscape(tenant))
}

func (c *ClientCredentials) Apply(req *http.Request) error {
	tok, err := c.Token(req.Context())
	if err != nil { return err }
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	ExpiresIn        json.Number `json:"expires_in"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

// Token returns a cached token or performs the exchange.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	key := "oauth2:" + c.CacheKey
	if tok, ok := c.Cache.Get(ctx, key); ok {
		metrics.TokenFetches.WithLabelValues(c.Provider, "hit").Inc()
		return tok, nil
	}
	metrics.TokenFetches.WithLabelValues(c.Provider, "miss").Inc()

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.ClientID},
		"client_secret": {c.ClientSecret},
	}
	if c.Resource != "" { form.Set("resource", c.Resource) }
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.TokenURL, strings.NewReader(form.Encode()))
	if err != nil { return "", err }
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		metrics.TokenFetches.WithLabelValues(c.Provider, "error").Inc()
		return "", fmt.Errorf("token request: %w", err)
	}
	var tr tokenResponse
	_ = json.Unmarshal(resp.Body, &tr)
	if !resp.OK() || tr.AccessToken == "" {
		metrics.TokenFetches.WithLabelValues(c.Provider, "error").Inc()
		msg := tr.ErrorDescription
		if msg == "" { msg = tr.Error }
		if msg == "" { msg = http.StatusText(resp.StatusCode) }
		return "", &httpclient.StatusError{Method: http.MethodPost, URL: c.TokenURL, StatusCode: resp.StatusCode, Body: []byte("token exchange failed: " + msg)}
	}

	ttl := c.TTL
	if ttl <= 0 { ttl = DefaultTokenTTL }
	if secs, err := tr.ExpiresIn.Int64(); err == nil && secs > 0 {
		// never cache past the real expiry minus a small margin
		if real := time.Duration(secs)*time.Second - 2*time.Minute; real > 0 && real < ttl {
			ttl = real
		}
	}
	if err := c.Cache.Set(ctx, key, tr.AccessToken, ttl); err != nil && c.Logger != nil {
		c.Logger.Warn("token cache write failed", zap.Error(err))
	}
	return tr.AccessToken, nil
}
