// Package rollout deploys rendered artifacts to targets and tracks their
// outcome per target.
package rollout

import "time"

// Status is the lifecycle state of a single target rollout.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplying   Status = "applying"
	StatusHealthy    Status = "healthy"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled-back"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusHealthy, StatusFailed, StatusRolledBack:
		return true
	}
	return false
}

// Record is the outcome of one deploy attempt against one target. Error is a
// flattened message so records stay JSON-serializable for the API.
type Record struct {
	Target     string    `json:"target"`
	Digest     string    `json:"digest"`
	Revision   string    `json:"revision"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	AppliedAt  time.Time `json:"appliedAt,omitempty"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}
