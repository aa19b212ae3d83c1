package api

import (
	"net/http"

	"shipyard/internal/health"
	"shipyard/internal/notify"
	"shipyard/internal/observability"
	"shipyard/internal/pipeline"
	"shipyard/internal/target"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	RunService    *pipeline.Service
	Registry      *target.Registry
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	Notifier      notify.Notifier
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.RunService, cfg.Registry, cfg.Metrics, cfg.HealthChecker, cfg.Notifier)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Pipeline endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/runs", authMiddleware(http.HandlerFunc(handler.TriggerRun)))
	mux.Handle("GET /v1/runs", authMiddleware(http.HandlerFunc(handler.ListRuns)))
	mux.Handle("GET /v1/runs/{runId}", authMiddleware(http.HandlerFunc(handler.GetRun)))
	mux.Handle("GET /v1/targets", authMiddleware(http.HandlerFunc(handler.ListTargets)))
	mux.Handle("GET /v1/notifier/stats", authMiddleware(http.HandlerFunc(handler.NotifierStats)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
