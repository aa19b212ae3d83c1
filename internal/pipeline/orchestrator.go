package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"shipyard/internal/apperrors"
	"shipyard/internal/artifact"
	"shipyard/internal/notify"
	"shipyard/internal/observability"
	"shipyard/internal/rollout"
	"shipyard/internal/scan"
	"shipyard/internal/target"
	"shipyard/pkg/cloudevent"
)

// Orchestrator executes runs: build, scan, then fan out to targets. One
// target's rollout failure never aborts a sibling; the run aggregates all
// branch outcomes after every branch has finished.
type Orchestrator struct {
	builder  artifact.Builder
	gate     *scan.Gate
	registry *target.Registry
	engine   *rollout.Engine
	notifier notify.Notifier
	store    *runStore
	cfg      Config
	metrics  *observability.Metrics

	destinations []string
	signingKey   string
}

// NewOrchestrator wires the pipeline stages together. notifier and metrics
// may be nil.
func NewOrchestrator(
	builder artifact.Builder,
	gate *scan.Gate,
	registry *target.Registry,
	engine *rollout.Engine,
	notifier notify.Notifier,
	cfg Config,
	notifyCfg notify.MemoryConfig,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		builder:      builder,
		gate:         gate,
		registry:     registry,
		engine:       engine,
		notifier:     notifier,
		store:        newRunStore(),
		cfg:          cfg.withDefaults(),
		metrics:      metrics,
		destinations: notifyCfg.Destinations,
		signingKey:   notifyCfg.SigningKey,
	}
}

// Execute drives the run to a terminal state under ctx. All outcomes land
// in the run record, never in a return value.
func (o *Orchestrator) Execute(ctx context.Context, runID string) {
	snapshot, err := o.store.get(runID)
	if err != nil {
		slog.Error("Run vanished before execution", "run_id", runID)
		return
	}
	logger := slog.With("component", "pipeline", "run_id", runID, "revision", snapshot.Revision)
	started := time.Now()
	if o.metrics != nil {
		o.metrics.RecordRunStarted(ctx)
	}

	art, err := o.buildStage(ctx, logger, runID, snapshot.Revision)
	if err != nil {
		o.finish(ctx, logger, runID, RunFailed, err, started)
		return
	}

	verdict, err := o.scanStage(ctx, logger, runID, art)
	if err != nil {
		o.finish(ctx, logger, runID, RunFailed, err, started)
		return
	}
	if !verdict.Passed {
		err := apperrors.ScanPolicyViolation(art.Digest.String(), len(verdict.Findings), string(verdict.Worst))
		o.finish(ctx, logger, runID, RunFailed, err, started)
		return
	}

	status := o.deployStage(ctx, logger, runID, snapshot.Targets, art)
	o.finish(ctx, logger, runID, status, nil, started)
}

func (o *Orchestrator) buildStage(ctx context.Context, logger *slog.Logger, runID, revision string) (*artifact.Artifact, error) {
	o.store.update(runID, func(r *Run) { r.Status = RunBuilding })
	logger.Info("Build stage started")
	stageStart := time.Now()

	buildCtx, cancel := context.WithTimeout(ctx, o.cfg.BuildTimeout)
	defer cancel()

	art, err := o.builder.Build(buildCtx, revision)
	o.recordStage(ctx, "build", err == nil, stageStart)
	if err != nil {
		logger.Error("Build stage failed", "error", err)
		return nil, err
	}

	o.store.update(runID, func(r *Run) { r.Artifact = art })
	logger.Info("Build stage finished", "digest", art.Digest.String())
	return art, nil
}

func (o *Orchestrator) scanStage(ctx context.Context, logger *slog.Logger, runID string, art *artifact.Artifact) (*scan.Verdict, error) {
	o.store.update(runID, func(r *Run) { r.Status = RunScanning })
	logger.Info("Scan stage started")
	stageStart := time.Now()

	verdict, err := o.gate.Check(ctx, art)
	o.recordStage(ctx, "scan", err == nil, stageStart)
	if err != nil {
		logger.Error("Scan stage failed", "error", err)
		return nil, err
	}

	o.store.update(runID, func(r *Run) { r.Verdict = verdict })
	if o.metrics != nil {
		o.metrics.RecordScanVerdict(ctx, verdict.Passed, verdict.SeverityCounts())
	}
	logger.Info("Scan stage finished", "passed", verdict.Passed, "worst", verdict.Worst)
	return verdict, nil
}

// deployStage fans out to all targets and aggregates the branch outcomes.
// The errgroup only bounds concurrency; branches never cancel each other.
func (o *Orchestrator) deployStage(ctx context.Context, logger *slog.Logger, runID string, targets []string, art *artifact.Artifact) RunStatus {
	o.store.update(runID, func(r *Run) {
		r.Status = RunDeploying
		r.Rollouts = make(map[string]*rollout.Record, len(targets))
	})
	logger.Info("Deploy stage started", "targets", targets)
	stageStart := time.Now()

	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallel)

	for _, name := range targets {
		g.Go(func() error {
			t, err := o.registry.Resolve(name)
			if err != nil {
				// Targets were resolved at trigger time; losing one
				// here means the registry changed underneath us.
				o.store.update(runID, func(r *Run) {
					r.Rollouts[name] = &rollout.Record{
						Target: name,
						Status: rollout.StatusFailed,
						Error:  err.Error(),
					}
				})
				return nil
			}
			rec := o.engine.Deploy(ctx, t, art)
			o.store.update(runID, func(r *Run) { r.Rollouts[name] = rec })
			return nil
		})
	}
	_ = g.Wait()

	snapshot, err := o.store.get(runID)
	if err != nil {
		return RunFailed
	}
	status := aggregate(snapshot.Rollouts)
	o.recordStage(ctx, "deploy", status == RunHealthy, stageStart)
	logger.Info("Deploy stage finished", "status", status)
	return status
}

// aggregate folds per-target outcomes into a run status: any failed target
// fails the run, otherwise any rollback degrades it, otherwise healthy.
func aggregate(rollouts map[string]*rollout.Record) RunStatus {
	status := RunHealthy
	for _, rec := range rollouts {
		switch rec.Status {
		case rollout.StatusFailed:
			return RunFailed
		case rollout.StatusRolledBack:
			status = RunRolledBack
		}
	}
	return status
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, runID string, status RunStatus, cause error, started time.Time) {
	snapshot := o.store.update(runID, func(r *Run) {
		r.Status = status
		r.FinishedAt = time.Now().UTC()
		if cause != nil {
			r.Error = cause.Error()
			r.Fatal = apperrors.IsFatal(cause)
		}
	})
	if o.metrics != nil {
		o.metrics.RecordRunCompleted(ctx, string(status), time.Since(started).Seconds())
	}
	logger.Info("Run finished", "status", status, "duration", time.Since(started).Round(time.Millisecond))

	o.publish(snapshot)
}

// publish fans the run outcome out to the configured webhook destinations.
func (o *Orchestrator) publish(run *Run) {
	if o.notifier == nil || len(o.destinations) == 0 || run == nil {
		return
	}

	eventType := cloudevent.TypeRunCompleted
	if run.Status == RunFailed {
		eventType = cloudevent.TypeRunFailed
	}

	data := map[string]any{
		"runId":    run.ID,
		"revision": run.Revision,
		"status":   string(run.Status),
		"targets":  run.Targets,
	}
	if run.Artifact != nil {
		data["digest"] = run.Artifact.Digest.String()
	}
	if run.Verdict != nil {
		data["findings"] = run.Verdict.SeverityCounts()
	}
	if len(run.Rollouts) > 0 {
		rollouts := make(map[string]string, len(run.Rollouts))
		for name, rec := range run.Rollouts {
			rollouts[name] = string(rec.Status)
		}
		data["rollouts"] = rollouts
	}
	if run.Error != "" {
		data["error"] = run.Error
		data["fatal"] = run.Fatal
	}

	event := cloudevent.New(eventType, o.cfg.EventSource, run.Revision, run.ID, data)
	if err := notify.FanOut(o.notifier, o.destinations, o.signingKey, event); err != nil {
		slog.Warn("Run event publish failed", "run_id", run.ID, "error", err)
	}
}

func (o *Orchestrator) recordStage(ctx context.Context, stage string, success bool, started time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStage(ctx, stage, success, time.Since(started).Seconds())
	}
}

// SweepLoop periodically drops runs that finished longer ago than the
// retention window. Blocks until the context is canceled.
func (o *Orchestrator) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := o.store.sweep(time.Now().Add(-o.cfg.RunRetention)); removed > 0 {
				slog.Info("Swept finished runs", "removed", removed)
			}
		}
	}
}
