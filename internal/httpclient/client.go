// Package httpclient is the shared outbound client used by ERP adapters,
// the webhook dispatcher and the mail channel.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"go.uber.org/zap"

	"linecare/internal/metrics"
)

const (
	// DefaultTimeout is the default request timeout
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum response body size (10MB)
	MaxResponseSize = 10 * 1024 * 1024

	DefaultUserAgent = "LineCare-Integrations/1.0"
)

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
	UserAgent       string
	// Headers are sent on every request unless the request already sets them.
	Headers map[string]string
}

func DefaultConfig() Config {
	return Config{
		Timeout:         DefaultTimeout,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
		UserAgent:       DefaultUserAgent,
	}
}

// Client wraps http.Client with default headers, size limits and instrumentation.
type Client struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 { cfg.Timeout = DefaultTimeout }
	if logger == nil { logger = zap.NewNop() }
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		MaxIdleConns:    cfg.MaxIdleConns,
		IdleConnTimeout: cfg.IdleConnTimeout,
	}
	return &Client{
		client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
	}
}

// WithCookieJar returns a copy sharing the transport but keeping its own session cookies.
func (c *Client) WithCookieJar() *Client {
	jar, _ := cookiejar.New(nil)
	hc := *c.client
	hc.Jar = jar
	cp := *c
	cp.client = &hc
	return &cp
}

// WithTimeout returns a copy with a different overall request timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	hc := *c.client
	hc.Timeout = d
	cp := *c
	cp.client = &hc
	return &cp
}

// Response represents a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// StatusError is returned by DoJSON for non-2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	b := e.Body
	if len(b) > 200 { b = b[:200] }
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, bytes.TrimSpace(b))
}

// RequestOption mutates an outgoing request, e.g. to apply credentials.
type RequestOption func(*http.Request) error

// Header sets a single header.
func Header(key, value string) RequestOption {
	return func(r *http.Request) error { r.Header.Set(key, value); return nil }
}

// Do executes req and reads the body. Transport errors are returned as errors; any status is a Response.
func (c *Client) Do(ctx context.Context, req *http.Request, opts ...RequestOption) (*Response, error) {
	req = req.WithContext(ctx)
	if req.Header.Get("User-Agent") == "" && c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range c.cfg.Headers {
		if req.Header.Get(k) == "" { req.Header.Set(k, v) }
	}
	for _, o := range opts {
		if o == nil { continue }
		if err := o(req); err != nil {
			return nil, fmt.Errorf("prepare request: %w", err)
		}
	}

	host := req.URL.Host
	start := time.Now()
	resp, err := c.client.Do(req)
	dur := time.Since(start)
	metrics.OutboundDuration.WithLabelValues(host).Observe(dur.Seconds())
	if err != nil {
		metrics.OutboundRequests.WithLabelValues(host, req.Method, "error").Inc()
		c.logger.Debug("outbound request failed", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()), zap.Error(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.OutboundRequests.WithLabelValues(host, req.Method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response too large: %d bytes (max %d)", resp.ContentLength, MaxResponseSize)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response body too large: %d bytes (max %d)", len(body), MaxResponseSize)
	}
	c.logger.Debug("outbound request", zap.String("method", req.Method), zap.String("url", req.URL.Redacted()), zap.Int("status", resp.StatusCode), zap.Duration("duration", dur))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body, Duration: dur}, nil
}

// DoJSON sends body (if non-nil) as JSON and decodes a 2xx response into out (if non-nil).
// Non-2xx responses come back as *StatusError alongside the response.
func (c *Client) DoJSON(ctx context.Context, method, url string, body, out any, opts ...RequestOption) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil { return nil, fmt.Errorf("encode request: %w", err) }
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil { return nil, fmt.Errorf("failed to create request: %w", err) }
	if body != nil { req.Header.Set("Content-Type", "application/json") }
	req.Header.Set("Accept", "application/json")
	resp, err := c.Do(ctx, req, opts...)
	if err != nil { return nil, err }
	if !resp.OK() {
		return resp, &StatusError{Method: method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: resp.Body}
	}
	if out != nil && len(bytes.TrimSpace(resp.Body)) > 0 {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp, nil
}
