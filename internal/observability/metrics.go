package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/runs/stages take
// - Traffic: Request/run throughput
// - Errors: Rate of failures
// - Saturation: Concurrent runs, notifier queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Pipeline run metrics (Latency, Traffic, Errors, Saturation)
	RunDuration metric.Float64Histogram
	RunsTotal   metric.Int64Counter
	RunsActive  metric.Int64UpDownCounter

	// Stage metrics (build, scan)
	StageDuration metric.Float64Histogram
	StageErrors   metric.Int64Counter

	// Scan metrics
	ScanFindings metric.Int64Counter
	ScanVerdicts metric.Int64Counter

	// Rollout metrics
	RolloutDuration metric.Float64Histogram
	RolloutsTotal   metric.Int64Counter
	RollbacksTotal  metric.Int64Counter

	// Notifier metrics (Latency, Traffic, Errors, Saturation)
	NotifierDuration  metric.Float64Histogram
	NotifierDelivered metric.Int64Counter
	NotifierFailed    metric.Int64Counter
	NotifierDropped   metric.Int64Counter
	NotifierRequeued  metric.Int64Counter
	NotifierQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("shipyard")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Pipeline run metrics
	m.RunDuration, err = meter.Float64Histogram(
		"pipeline_run_duration_seconds",
		metric.WithDescription("End-to-end pipeline run duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsTotal, err = meter.Int64Counter(
		"pipeline_runs_total",
		metric.WithDescription("Total number of pipeline runs by terminal status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RunsActive, err = meter.Int64UpDownCounter(
		"pipeline_runs_active",
		metric.WithDescription("Number of currently executing pipeline runs (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Stage metrics
	m.StageDuration, err = meter.Float64Histogram(
		"pipeline_stage_duration_seconds",
		metric.WithDescription("Duration of individual pipeline stages in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StageErrors, err = meter.Int64Counter(
		"pipeline_stage_errors_total",
		metric.WithDescription("Total stage failures by stage"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Scan metrics
	m.ScanFindings, err = meter.Int64Counter(
		"scan_findings_total",
		metric.WithDescription("Total vulnerability findings by severity"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ScanVerdicts, err = meter.Int64Counter(
		"scan_verdicts_total",
		metric.WithDescription("Total scan verdicts by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Rollout metrics
	m.RolloutDuration, err = meter.Float64Histogram(
		"rollout_duration_seconds",
		metric.WithDescription("Per-target rollout duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(5, 15, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RolloutsTotal, err = meter.Int64Counter(
		"rollouts_total",
		metric.WithDescription("Total rollouts by target and terminal status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RollbacksTotal, err = meter.Int64Counter(
		"rollbacks_total",
		metric.WithDescription("Total rollback attempts by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notifier metrics
	m.NotifierDuration, err = meter.Float64Histogram(
		"notifier_duration_seconds",
		metric.WithDescription("Webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDelivered, err = meter.Int64Counter(
		"notifier_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierFailed, err = meter.Int64Counter(
		"notifier_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierDropped, err = meter.Int64Counter(
		"notifier_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierRequeued, err = meter.Int64Counter(
		"notifier_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifierQueueSize, err = meter.Int64Gauge(
		"notifier_queue_size",
		metric.WithDescription("Current number of events in notifier queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordRunStarted records a pipeline run entering execution.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	m.RunsActive.Add(ctx, 1)
}

// RecordRunCompleted records a pipeline run reaching a terminal status.
func (m *Metrics) RecordRunCompleted(ctx context.Context, status string, durationSeconds float64) {
	m.RunsActive.Add(ctx, -1)
	attrs := metric.WithAttributes(statusNameAttr(status))
	m.RunsTotal.Add(ctx, 1, attrs)
	m.RunDuration.Record(ctx, durationSeconds, attrs)
}

// RecordStage records a build or scan stage completing.
func (m *Metrics) RecordStage(ctx context.Context, stage string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(stageAttr(stage), successAttr(success))
	m.StageDuration.Record(ctx, durationSeconds, attrs)
	if !success {
		m.StageErrors.Add(ctx, 1, metric.WithAttributes(stageAttr(stage)))
	}
}

// RecordScanVerdict records a scan verdict with its finding counts by severity.
func (m *Metrics) RecordScanVerdict(ctx context.Context, passed bool, findingsBySeverity map[string]int) {
	outcome := "pass"
	if !passed {
		outcome = "fail"
	}
	m.ScanVerdicts.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
	for severity, count := range findingsBySeverity {
		m.ScanFindings.Add(ctx, int64(count), metric.WithAttributes(severityAttr(severity)))
	}
}

// RecordRollout records a per-target rollout reaching a terminal status.
func (m *Metrics) RecordRollout(ctx context.Context, target, status string, durationSeconds float64) {
	attrs := metric.WithAttributes(targetAttr(target), statusNameAttr(status))
	m.RolloutsTotal.Add(ctx, 1, attrs)
	m.RolloutDuration.Record(ctx, durationSeconds, attrs)
}

// RecordRollback records a rollback attempt.
func (m *Metrics) RecordRollback(ctx context.Context, target string, success bool) {
	m.RollbacksTotal.Add(ctx, 1, metric.WithAttributes(targetAttr(target), successAttr(success)))
}

// RecordNotifierDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordNotifierDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifierDelivered.Add(ctx, 1)
	m.NotifierDuration.Record(ctx, durationSeconds)
}

// RecordNotifierFailed records a failed event delivery.
func (m *Metrics) RecordNotifierFailed(ctx context.Context) {
	m.NotifierFailed.Add(ctx, 1)
}

// RecordNotifierDropped records a dropped event.
func (m *Metrics) RecordNotifierDropped(ctx context.Context) {
	m.NotifierDropped.Add(ctx, 1)
}

// RecordNotifierRequeued records a requeued event.
func (m *Metrics) RecordNotifierRequeued(ctx context.Context) {
	m.NotifierRequeued.Add(ctx, 1)
}

// RecordNotifierQueueSize records the current queue size.
func (m *Metrics) RecordNotifierQueueSize(ctx context.Context, size int64) {
	m.NotifierQueueSize.Record(ctx, size)
}
