package api

import (
	"net/http"
	"time"

	"linecare/internal/buildinfo"
	"linecare/internal/store"
)

// DebugJSON reports build info and which backends are wired.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	_, inMemory := s.Store.(*store.Memory)
	writeJSON(w, http.StatusOK, map[string]any{
		"build":     buildinfo.Info(),
		"time":      time.Now().UTC().Format(time.RFC3339),
		"store":     map[bool]string{true: "memory", false: "postgres"}[inMemory],
		"providers": s.Factory.SupportedProviders(),
		"channels":  s.Channels,
	})
}
