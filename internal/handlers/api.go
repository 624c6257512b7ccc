package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/taskwatch/internal/broadcast"
	"github.com/ternarybob/taskwatch/internal/common"
	"github.com/ternarybob/taskwatch/internal/registry"
)

type APIHandler struct {
	logger     arbor.ILogger
	registry   *registry.Registry
	dispatcher *broadcast.Dispatcher
}

func NewAPIHandler(reg *registry.Registry, dispatcher *broadcast.Dispatcher, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		logger:     logger,
		registry:   reg,
		dispatcher: dispatcher,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatsResponse summarizes follow and push activity
type StatsResponse struct {
	Registry   registry.Stats  `json:"registry"`
	Dispatcher broadcast.Stats  `json:"dispatcher"`
	Goroutines int64           `json:"goroutines"`
}

// StatsHandler returns registry and dispatcher counters
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, StatsResponse{
		Registry:   h.registry.Stats(),
		Dispatcher: h.dispatcher.Stats(),
		Goroutines: common.GetGoroutineCount(),
	})
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
