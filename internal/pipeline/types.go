// Package pipeline coordinates the build, scan, and deploy stages of a run
// and tracks run state.
package pipeline

import (
	"time"

	"shipyard/internal/artifact"
	"shipyard/internal/rollout"
	"shipyard/internal/scan"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunBuilding  RunStatus = "building"
	RunScanning  RunStatus = "scanning"
	RunDeploying RunStatus = "deploying"

	// Terminal states. A run is healthy only if every target rollout is
	// healthy; a single rolled-back target degrades the whole run.
	RunHealthy    RunStatus = "healthy"
	RunRolledBack RunStatus = "rolled-back"
	RunFailed     RunStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunHealthy, RunRolledBack, RunFailed:
		return true
	}
	return false
}

// Run is one execution of the pipeline for a source revision.
type Run struct {
	ID             string    `json:"id"`
	Revision       string    `json:"revision"`
	Targets        []string  `json:"targets"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
	Status         RunStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	// Fatal marks failures that halted the pipeline before fan-out (build,
	// gate, unknown target). Branch-level rollout failures leave it false.
	Fatal bool `json:"fatal,omitempty"`

	Artifact *artifact.Artifact         `json:"artifact,omitempty"`
	Verdict  *scan.Verdict              `json:"verdict,omitempty"`
	Rollouts map[string]*rollout.Record `json:"rollouts,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// clone returns a deep enough copy for handing out past the store lock.
func (r *Run) clone() *Run {
	copied := *r
	copied.Targets = append([]string(nil), r.Targets...)
	if r.Rollouts != nil {
		copied.Rollouts = make(map[string]*rollout.Record, len(r.Rollouts))
		for name, rec := range r.Rollouts {
			recCopy := *rec
			copied.Rollouts[name] = &recCopy
		}
	}
	return &copied
}
