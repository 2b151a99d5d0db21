// Package api implements the HTTP surface of the integration service.
package api

import (
	"net/http"
	"strings"
)

// companyID resolves the tenant. Authentication happens upstream; the gateway sets X-Company-Id.
func companyID(r *http.Request) string {
	if c := strings.TrimSpace(r.Header.Get("X-Company-Id")); c != "" { return c }
	// websocket clients can't always set headers
	return strings.TrimSpace(r.URL.Query().Get("companyId"))
}

// requireCompany writes a problem and returns "" when no tenant is present.
func requireCompany(w http.ResponseWriter, r *http.Request) string {
	c := companyID(r)
	if c == "" { writeProblem(w, http.StatusBadRequest, "Missing company", "X-Company-Id header is required", r.URL.Path) }
	return c
}
