package pipeline

import (
	"sort"
	"sync"
	"time"

	"shipyard/internal/apperrors"
)

// runStore keeps run state in memory. All mutation funnels through update so
// readers only ever see consistent snapshots.
type runStore struct {
	mu    sync.Mutex
	runs  map[string]*Run
	byKey map[string]string // idempotency key -> run ID
}

func newRunStore() *runStore {
	return &runStore{
		runs:  make(map[string]*Run),
		byKey: make(map[string]string),
	}
}

// reserve registers a new run. When the idempotency key is already bound,
// the existing run is returned instead and created is false.
func (s *runStore) reserve(run *Run) (*Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.IdempotencyKey != "" {
		if id, ok := s.byKey[run.IdempotencyKey]; ok {
			return s.runs[id].clone(), false
		}
		s.byKey[run.IdempotencyKey] = run.ID
	}
	s.runs[run.ID] = run
	return run.clone(), true
}

// update applies fn to the run under the lock and returns a snapshot.
func (s *runStore) update(id string, fn func(*Run)) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil
	}
	fn(run)
	return run.clone()
}

// get returns a snapshot of the run.
func (s *runStore) get(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}
	return run.clone(), nil
}

// list returns snapshots of all runs, newest first.
func (s *runStore) list() []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// sweep drops terminal runs that finished before the cutoff, releasing their
// idempotency keys. Returns the number of runs removed.
func (s *runStore) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, run := range s.runs {
		if !run.Status.Terminal() || run.FinishedAt.IsZero() || run.FinishedAt.After(cutoff) {
			continue
		}
		if run.IdempotencyKey != "" {
			delete(s.byKey, run.IdempotencyKey)
		}
		delete(s.runs, id)
		removed++
	}
	return removed
}
