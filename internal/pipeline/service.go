package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"shipyard/internal/apperrors"
)

// revisionPattern accepts git SHAs, tags, and similar source identifiers.
var revisionPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._\-/]{0,127}$`)

// TriggerRequest is an incoming request to start a run.
type TriggerRequest struct {
	Revision       string   `json:"revision"`
	Targets        []string `json:"targets"`
	IdempotencyKey string   `json:"idempotencyKey,omitempty"`
}

// Service is the public surface of the pipeline: trigger runs, read them
// back. Trigger detaches execution from the caller; Execute keeps the
// caller's context in charge.
type Service struct {
	orch *Orchestrator
}

// NewService creates the run service around an orchestrator.
func NewService(orch *Orchestrator) *Service {
	return &Service{orch: orch}
}

// Trigger validates the request and starts a run asynchronously. A request
// re-using an idempotency key returns the original run, created false.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (*Run, bool, error) {
	run, created, err := s.reserve(req)
	if err != nil || !created {
		return run, created, err
	}

	// The run outlives the triggering request.
	go s.orch.Execute(context.Background(), run.ID)
	return run, true, nil
}

// Execute validates the request and runs it to a terminal status under ctx.
// Canceling ctx aborts the in-flight stages; the run still finishes with a
// terminal record. Intended for one-shot callers that own the run lifetime.
func (s *Service) Execute(ctx context.Context, req TriggerRequest) (*Run, error) {
	run, created, err := s.reserve(req)
	if err != nil {
		return nil, err
	}
	if !created {
		return run, nil
	}

	s.orch.Execute(ctx, run.ID)
	return s.orch.store.get(run.ID)
}

// reserve validates the request and registers the run without starting it.
func (s *Service) reserve(req TriggerRequest) (*Run, bool, error) {
	if !revisionPattern.MatchString(req.Revision) {
		return nil, false, apperrors.Validation("revision", "revision must be a source identifier of at most 128 characters")
	}
	if len(req.Targets) == 0 {
		return nil, false, apperrors.Validation("targets", "at least one target is required")
	}

	seen := make(map[string]bool, len(req.Targets))
	for _, name := range req.Targets {
		if seen[name] {
			return nil, false, apperrors.Validation("targets", fmt.Sprintf("duplicate target %q", name))
		}
		seen[name] = true
		// Fail the whole request before any work starts rather than
		// discovering the bad target mid-run.
		if _, err := s.orch.registry.Resolve(name); err != nil {
			return nil, false, err
		}
	}

	run := &Run{
		ID:             uuid.NewString(),
		Revision:       req.Revision,
		Targets:        append([]string(nil), req.Targets...),
		IdempotencyKey: req.IdempotencyKey,
		Status:         RunPending,
		StartedAt:      time.Now().UTC(),
	}

	snapshot, created := s.orch.store.reserve(run)
	return snapshot, created, nil
}

// Get returns a snapshot of the run.
func (s *Service) Get(id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.Validation("runId", "run ID must be a UUID")
	}
	return s.orch.store.get(id)
}

// List returns snapshots of all known runs, newest first.
func (s *Service) List() []*Run {
	return s.orch.store.list()
}
