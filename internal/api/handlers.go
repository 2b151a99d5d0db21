package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"linecare/internal/buildinfo"
	"linecare/internal/model"
	"linecare/internal/orchestrator"
	"linecare/internal/store"
)

// IntegrationsHandler handles GET /v1/integrations
func (s *Server) IntegrationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	company := requireCompany(w, r)
	if company == "" { return }
	items, err := s.Store.ListIntegrations(r.Context(), company)
	if err != nil { writeProblem(w, http.StatusInternalServerError, "List integrations failed", err.Error(), r.URL.Path); return }
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ProvidersHandler handles GET /v1/integrations/providers
func (s *Server) ProvidersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
	actions := make([]string, 0, len(model.ConcreteActions)+1)
	for _, a := range model.ConcreteActions { actions = append(actions, string(a)) }
	actions = append(actions, string(model.ActionAll))
	writeJSON(w, http.StatusOK, map[string]any{"providers": s.Factory.SupportedProviders(), "actions": actions})
}

// IntegrationByIDHandler handles /v1/integrations/{id}/{validate|test|sync|logs}
func (s *Server) IntegrationByIDHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	rest := strings.Trim(strings.TrimPrefix(path, "/v1/integrations/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" { writeProblem(w, http.StatusNotFound, "Not Found", "", path); return }
	company := requireCompany(w, r)
	if company == "" { return }
	id, op := parts[0], parts[1]

	in, err := s.Store.GetIntegration(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && in.CompanyID != company) {
		writeProblem(w, http.StatusNotFound, "Integration not found", id, path)
		return
	}
	if err != nil { writeProblem(w, http.StatusInternalServerError, "Load integration failed", err.Error(), path); return }

	switch op {
	case "validate":
		if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
		_, adapter, err := s.Orch.Adapter(r.Context(), id)
		if err != nil { writeProblem(w, http.StatusInternalServerError, "Build adapter failed", err.Error(), path); return }
		writeJSON(w, http.StatusOK, adapter.ValidateConfig())
	case "test":
		if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
		_, adapter, err := s.Orch.Adapter(r.Context(), id)
		if err != nil { writeProblem(w, http.StatusInternalServerError, "Build adapter failed", err.Error(), path); return }
		if v := adapter.ValidateConfig(); !v.Valid {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "invalid configuration: " + strings.Join(v.Errors, "; ")})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		writeJSON(w, http.StatusOK, adapter.TestConnection(ctx))
	case "sync":
		if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
		s.syncIntegration(w, r, in)
	case "logs":
		if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
		q := r.URL.Query()
		f := store.LogFilter{Action: model.Action(q.Get("action")), Status: q.Get("status")}
		if v := q.Get("limit"); v != "" { f.Limit, _ = strconv.Atoi(v) }
		items, err := s.Store.ListIntegrationLogs(r.Context(), id, f)
		if err != nil { writeProblem(w, http.StatusInternalServerError, "List logs failed", err.Error(), path); return }
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", path)
	}
}

func (s *Server) syncIntegration(w http.ResponseWriter, r *http.Request, in model.Integration) {
	req := syncRequest{Action: model.ActionAll}
	if err := decodeJSON(r, &req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
	if r.URL.Query().Get("wait") == "true" { req.Wait = true }
	if err := validateRequest(req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid sync request", err.Error(), r.URL.Path); return }
	if !in.Enabled { writeProblem(w, http.StatusConflict, "Integration disabled", in.ID, r.URL.Path); return }

	if req.Wait {
		res, err := s.Orch.Run(r.Context(), in.ID, req.Action)
		if errors.Is(err, orchestrator.ErrSyncInProgress) { writeProblem(w, http.StatusConflict, "Sync in progress", in.ID, r.URL.Path); return }
		if err != nil { writeProblem(w, http.StatusInternalServerError, "Sync failed", err.Error(), r.URL.Path); return }
		writeJSON(w, http.StatusOK, res)
		return
	}
	env, err := s.Syncs.Enqueue(r.Context(), in.ID, req.Action)
	if err != nil { writeProblem(w, http.StatusInternalServerError, "Enqueue sync failed", err.Error(), r.URL.Path); return }
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": env.ID, "action": req.Action})
}

// EventsHandler handles POST /v1/events; the event fans out to subscribed webhook endpoints.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	company := requireCompany(w, r)
	if company == "" { return }
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
	if err := validateRequest(req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid event", err.Error(), r.URL.Path); return }
	dels, err := s.Publisher.Emit(r.Context(), company, req.Event, req.Data)
	if err != nil { writeProblem(w, http.StatusInternalServerError, "Emit event failed", err.Error(), r.URL.Path); return }
	ids := make([]string, 0, len(dels))
	for _, d := range dels { ids = append(ids, d.ID) }
	writeJSON(w, http.StatusAccepted, map[string]any{"deliveries": ids})
}

// NotificationsHandler handles POST /v1/notifications: one recipient by id, otherwise a filtered bulk send.
func (s *Server) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost { w.WriteHeader(http.StatusMethodNotAllowed); return }
	company := requireCompany(w, r)
	if company == "" { return }
	var req notificationRequest
	if err := decodeJSON(r, &req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path); return }
	if err := validateRequest(req); err != nil { writeProblem(w, http.StatusBadRequest, "Invalid notification", err.Error(), r.URL.Path); return }

	var jobID string
	var err error
	if req.RecipientID != "" {
		jobID, err = s.Notify.Send(r.Context(), company, req.RecipientID, req.Message)
	} else {
		jobID, err = s.Notify.SendBulk(r.Context(), company, req.Filter, req.Message)
	}
	if err != nil { writeProblem(w, http.StatusInternalServerError, "Enqueue notification failed", err.Error(), r.URL.Path); return }
	writeJSON(w, http.StatusAccepted, map[string]any{"jobId": jobID})
}

// WebhookDeliveriesHandler handles GET /v1/admin/webhook-deliveries
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	if r.Method != http.MethodGet { w.WriteHeader(405); return }
	company := requireCompany(w, r)
	if company == "" { return }
	status := r.URL.Query().Get("status")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" { limit, _ = strconv.Atoi(v) }
	items, err := s.Store.ListWebhookDeliveries(r.Context(), company, status, limit)
	if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 200, map[string]any{"items": items})
}

// WebhookDeliveryRetryHandler handles POST /v1/admin/webhook-deliveries/{id}/retry
func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
	if r.Method != http.MethodPost { w.WriteHeader(405); return }
	company := requireCompany(w, r)
	if company == "" { return }
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
	del, err := s.Webhooks.Redeliver(r.Context(), company, id)
	if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Delivery not found", id, r.URL.Path); return }
	if err != nil { writeProblem(w, 500, "Retry delivery failed", err.Error(), r.URL.Path); return }
	writeJSON(w, 202, del)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// Check DB connectivity when using Postgres store
	type pinger interface{ Ping(ctx context.Context) error }
	if pg, ok := s.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}
