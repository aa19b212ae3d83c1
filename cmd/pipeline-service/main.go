// pipeline-service is the HTTP API server for the deployment pipeline.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipyard/internal/api"
	"shipyard/internal/artifact"
	"shipyard/internal/config"
	"shipyard/internal/health"
	"shipyard/internal/notify"
	"shipyard/internal/observability"
	"shipyard/internal/pipeline"
	"shipyard/internal/rollout"
	"shipyard/internal/scan"
	"shipyard/internal/secrets"
	"shipyard/internal/target"
)

func main() {
	level := slog.LevelInfo
	if config.GetBoolEnv("LOG_DEBUG", false) {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	buildCfg := artifact.LoadConfigFromEnv()
	scanCfg := scan.LoadConfigFromEnv()
	rolloutCfg := rollout.LoadConfigFromEnv()
	pipelineCfg := pipeline.LoadConfigFromEnv()
	notifyCfg := notify.LoadConfigFromEnv()

	// A bad target inventory fails startup, not the first run that hits it.
	registry, err := target.LoadRegistry(svcCfg.TargetsFile)
	if err != nil {
		return err
	}
	slog.Info("Target registry loaded", "targets", registry.Names())

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create outcome notifier
	notifier := notify.NewMemory(notifyCfg, metrics)

	// Create artifact builder (Docker daemon)
	builder, err := artifact.NewDockerBuilder(buildCfg)
	if err != nil {
		return err
	}
	defer builder.Close()
	slog.Info("Connected to Docker daemon")

	// Wire pipeline stages
	scanner := scan.NewHTTPScanner(scanCfg.ServiceURL, scanCfg.Timeout)
	gate := scan.NewGate(scanner, scan.PolicyFromEnv(), scanCfg)
	secretStore := secrets.NewStore(svcCfg.SecretsDir)
	applier := rollout.NewClusterApplier(secretStore)
	engine := rollout.NewEngine(applier, rollout.NewStore(), rolloutCfg, metrics)

	orch := pipeline.NewOrchestrator(builder, gate, registry, engine, notifier, pipelineCfg, notifyCfg, metrics)
	runService := pipeline.NewService(orch)
	go orch.SweepLoop(ctx)

	// Create health checker
	healthChecker := health.NewChecker(map[string]health.ReadinessCheck{
		"docker":  builder.Ready,
		"scanner": scanner.Ready,
	})

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		RunService:    runService,
		Registry:      registry,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Notifier:      notifier,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), timeout)
		defer cancelShutdown()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Drain outcome notifier
	slog.Info("Draining outcome notifier")
	notifierCtx, notifierCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer notifierCancel()
	if err := notifier.Close(notifierCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}

	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// In-flight runs are cut off with the process; their cluster state is
	// reconciled by the next deploy of the same revision.
	slog.Info("Shutdown complete")
	return nil
}
