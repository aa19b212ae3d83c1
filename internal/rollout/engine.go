package rollout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"shipyard/internal/apperrors"
	"shipyard/internal/artifact"
	"shipyard/internal/observability"
	"shipyard/internal/target"
	"shipyard/pkg/backoff"
)

// Engine deploys artifacts to targets. Deploy never returns an error; every
// outcome, including rollback and rollback failure, is captured in the
// returned record so one target's failure cannot escalate past its branch.
type Engine struct {
	applier Applier
	store   *Store
	cfg     Config
	metrics *observability.Metrics
}

// NewEngine creates a rollout engine. metrics may be nil in tests.
func NewEngine(applier Applier, store *Store, cfg Config, metrics *observability.Metrics) *Engine {
	return &Engine{
		applier: applier,
		store:   store,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
	}
}

// Store exposes the engine's rollout history.
func (e *Engine) Store() *Store {
	return e.store
}

// Deploy rolls the artifact out to one target and waits for the workload to
// become healthy. Re-deploying a revision that is already healthy on the
// target is a no-op returning the existing record.
func (e *Engine) Deploy(ctx context.Context, t *target.Target, art *artifact.Artifact) *Record {
	logger := slog.With("component", "rollout", "target", t.Name, "digest", art.Digest.String())
	started := time.Now().UTC()

	rec := &Record{
		Target:    t.Name,
		Digest:    art.Digest.String(),
		Revision:  art.Revision,
		Status:    StatusPending,
		StartedAt: started,
	}

	set, err := Render(t, art)
	if err != nil {
		logger.Error("Render failed", "error", err)
		return e.finish(ctx, rec, nil, StatusFailed, err, started)
	}

	if e.store.CurrentRevision(t.Name) == set.Revision {
		if existing := e.store.HealthyRecord(t.Name); existing != nil {
			logger.Info("Revision already healthy on target, skipping", "revision", set.Revision)
			return existing
		}
	}

	rec.Status = StatusApplying
	logger.Info("Applying manifests", "revision", set.Revision, "objects", len(set.Objects))

	if err := e.applyAll(ctx, t, set.Objects); err != nil {
		logger.Error("Apply failed", "error", err)
		return e.finish(ctx, rec, set, StatusFailed, err, started)
	}
	rec.AppliedAt = time.Now().UTC()

	if err := e.waitHealthy(ctx, t); err != nil {
		logger.Warn("Workload did not become healthy", "error", err)
		return e.rollback(ctx, logger, t, rec, set, err, started)
	}

	logger.Info("Rollout healthy", "revision", set.Revision)
	return e.finish(ctx, rec, set, StatusHealthy, nil, started)
}

// applyAll pushes each object with bounded retries. The first object that
// exhausts its retries aborts the set.
func (e *Engine) applyAll(ctx context.Context, t *target.Target, objects []*unstructured.Unstructured) error {
	for _, obj := range objects {
		var lastErr error
		for attempt := 1; attempt <= e.cfg.ApplyRetries; attempt++ {
			applyCtx, cancel := context.WithTimeout(ctx, e.cfg.ApplyTimeout)
			lastErr = e.applier.Apply(applyCtx, t, obj)
			cancel()
			if lastErr == nil {
				break
			}
			if attempt == e.cfg.ApplyRetries {
				break
			}
			if err := backoff.Sleep(ctx, backoff.Exponential(attempt, &e.cfg.Backoff)); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr != nil {
			op := fmt.Sprintf("%s/%s", obj.GetKind(), obj.GetName())
			return apperrors.ApplyFailed(t.Name, op, e.cfg.ApplyRetries, lastErr)
		}
	}
	return nil
}

// waitHealthy polls the workload until all desired replicas are ready or the
// health timeout elapses.
func (e *Engine) waitHealthy(ctx context.Context, t *target.Target) error {
	deadline := time.NewTimer(e.cfg.HealthTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		ready, desired, err := e.applier.WorkloadStatus(ctx, t)
		if err == nil && desired > 0 && ready >= desired {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return apperrors.HealthTimeout(t.Name, e.cfg.HealthTimeout)
		case <-ticker.C:
		}
	}
}

// rollback re-applies the last healthy manifest set. When no healthy set
// exists, or the rollback itself fails, the record stays failed with both
// errors flattened into it.
func (e *Engine) rollback(ctx context.Context, logger *slog.Logger, t *target.Target, rec *Record, set *ManifestSet, cause error, started time.Time) *Record {
	prev := e.store.LastHealthy(t.Name)
	if prev == nil {
		logger.Error("No healthy revision to roll back to")
		return e.finish(ctx, rec, set, StatusFailed, cause, started)
	}

	logger.Info("Rolling back", "revision", prev.Revision)
	if err := e.applyAll(ctx, t, prev.Objects); err != nil {
		rbErr := apperrors.RollbackFailed(t.Name, err)
		logger.Error("Rollback failed", "error", rbErr)
		e.recordRollback(ctx, t.Name, false)
		return e.finish(ctx, rec, set, StatusFailed, fmt.Errorf("%w (after %v)", rbErr, cause), started)
	}
	if err := e.waitHealthy(ctx, t); err != nil {
		rbErr := apperrors.RollbackFailed(t.Name, err)
		logger.Error("Rolled-back workload did not recover", "error", rbErr)
		e.recordRollback(ctx, t.Name, false)
		return e.finish(ctx, rec, set, StatusFailed, fmt.Errorf("%w (after %v)", rbErr, cause), started)
	}

	logger.Info("Rollback healthy", "revision", prev.Revision)
	e.recordRollback(ctx, t.Name, true)
	return e.finish(ctx, rec, set, StatusRolledBack, cause, started)
}

func (e *Engine) finish(ctx context.Context, rec *Record, set *ManifestSet, status Status, cause error, started time.Time) *Record {
	rec.Status = status
	rec.FinishedAt = time.Now().UTC()
	if cause != nil {
		rec.Error = cause.Error()
	}
	if set != nil {
		e.store.RecordOutcome(rec, set)
	}
	if e.metrics != nil {
		e.metrics.RecordRollout(ctx, rec.Target, string(status), time.Since(started).Seconds())
	}
	return rec
}

func (e *Engine) recordRollback(ctx context.Context, targetName string, success bool) {
	if e.metrics != nil {
		e.metrics.RecordRollback(ctx, targetName, success)
	}
}
