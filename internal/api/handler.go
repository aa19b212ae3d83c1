// Package api provides the HTTP API handlers and routing for the pipeline
// service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"shipyard/internal/apperrors"
	"shipyard/internal/health"
	"shipyard/internal/notify"
	"shipyard/internal/observability"
	"shipyard/internal/pipeline"
	"shipyard/internal/target"
)

// maxRequestBodySize limits request body to 1MB to prevent memory exhaustion
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler contains HTTP handlers for the pipeline API
type Handler struct {
	svc      *pipeline.Service
	registry *target.Registry
	metrics  *observability.Metrics
	health   *health.Checker
	notifier notify.Notifier
}

// NewHandler creates a new API handler
func NewHandler(svc *pipeline.Service, registry *target.Registry, metrics *observability.Metrics, healthChecker *health.Checker, n notify.Notifier) *Handler {
	return &Handler{
		svc:      svc,
		registry: registry,
		metrics:  metrics,
		health:   healthChecker,
		notifier: n,
	}
}

// TriggerRun handles POST /v1/runs
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent memory exhaustion
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req pipeline.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	run, created, err := h.svc.Trigger(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	// A replayed idempotency key returns the original run.
	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	h.writeJSON(w, status, run)
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.List())
}

// GetRun handles GET /v1/runs/{runId}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if runID == "" {
		h.writeError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	run, err := h.svc.Get(runID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, run)
}

// ListTargets handles GET /v1/targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.registry.All())
}

// NotifierStats handles GET /v1/notifier/stats
func (h *Handler) NotifierStats(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		h.writeJSON(w, http.StatusOK, notify.Stats{})
		return
	}
	h.writeJSON(w, http.StatusOK, h.notifier.Stats())
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if dependencies (Docker daemon, scanner) are unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	h.writeError(w, status, err.Error())
}
