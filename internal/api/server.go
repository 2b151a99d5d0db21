package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"linecare/internal/events"
	"linecare/internal/integrations/factory"
	"linecare/internal/metrics"
	"linecare/internal/notifications"
	"linecare/internal/orchestrator"
	"linecare/internal/store"
	"linecare/internal/webhooks"
)

type Server struct {
	Store     store.Store
	Factory   *factory.Factory
	Orch      *orchestrator.Orchestrator
	Syncs     *orchestrator.Jobs
	Webhooks  *webhooks.Dispatcher
	Publisher *webhooks.Publisher
	Notify    *notifications.Dispatcher
	Channels  []string
	Broker    events.Broker
	Logger    *zap.Logger
}

// Routes builds the service mux with logging and metrics around every route.
func (s *Server) Routes() http.Handler {
	if s.Logger == nil { s.Logger = zap.NewNop() }
	if s.Broker == nil { s.Broker = events.Nop{} }
	mux := http.NewServeMux()

	// Integrations
	mux.Handle("/v1/integrations", s.instrument("integrations", s.IntegrationsHandler))
	mux.Handle("/v1/integrations/providers", s.instrument("providers", s.ProvidersHandler))
	mux.Handle("/v1/integrations/", s.instrument("integration", s.IntegrationByIDHandler)) // validate, test, sync, logs

	// Events and notifications
	mux.Handle("/v1/events", s.instrument("events", s.EventsHandler))
	mux.Handle("/v1/events/ws", s.instrument("events_ws", s.EventsWSHandler))
	mux.Handle("/v1/notifications", s.instrument("notifications", s.NotificationsHandler))

	// Admin
	mux.Handle("/v1/admin/webhook-deliveries", s.instrument("deliveries", s.WebhookDeliveriesHandler))
	mux.Handle("/v1/admin/webhook-deliveries/", s.instrument("delivery_retry", s.WebhookDeliveryRetryHandler))
	mux.Handle("/v1/admin/debug", s.instrument("debug", s.DebugJSON))

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes websocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok { return nil, nil, errors.New("response writer does not support hijacking") }
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		dur := time.Since(start)
		code := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, route, code).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route, code).Observe(dur.Seconds())
		s.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", dur),
			zap.String("company_id", companyID(r)),
		)
	})
}
