package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "linecare"

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts API requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records API request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SyncRuns counts sync action runs by provider, action and status
	SyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "sync", Name: "runs_total", Help: "Sync action runs."},
		[]string{"provider", "action", "status"},
	)
	// SyncDuration tracks sync action durations in seconds
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Subsystem: "sync", Name: "duration_seconds", Help: "Sync action duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300}},
		[]string{"provider", "action"},
	)
	// SyncRecords counts processed records by outcome
	SyncRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "sync", Name: "records_total", Help: "Records processed by sync actions."},
		[]string{"provider", "action", "outcome"},
	)

	// WebhookDeliveries counts webhook delivery attempts by event and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event and status."},
		[]string{"event", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 30000}},
		[]string{"event", "status"},
	)

	// NotificationSends counts notification sends by channel and outcome
	NotificationSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notification_sends_total", Help: "Notification sends by channel and outcome."},
		[]string{"channel", "outcome"},
	)

	// OutboundRequests counts calls to external systems by host and status class
	OutboundRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "outbound", Name: "requests_total", Help: "Outbound HTTP requests."},
		[]string{"host", "method", "status"},
	)
	// OutboundDuration records outbound call durations in seconds
	OutboundDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Subsystem: "outbound", Name: "request_duration_seconds", Help: "Outbound HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"host"},
	)

	// TokenFetches counts access token acquisitions by result (hit, miss, error)
	TokenFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "token_fetches_total", Help: "Access token lookups."},
		[]string{"provider", "result"},
	)

	// Jobs counts job outcomes by type (succeeded, retried, failed)
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "jobs", Name: "total", Help: "Job outcomes by type."},
		[]string{"type", "outcome"},
	)
	// JobDuration tracks job handler durations in seconds
	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: namespace, Subsystem: "jobs", Name: "duration_seconds", Help: "Job handler duration in seconds.", Buckets: []float64{0.05, 0.25, 1, 5, 30, 60, 120, 300}},
		[]string{"type"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(SyncRuns, SyncDuration, SyncRecords)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		Registry.MustRegister(NotificationSends)
		Registry.MustRegister(OutboundRequests, OutboundDuration, TokenFetches)
		Registry.MustRegister(Jobs, JobDuration)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
