package rollout

import "sync"

const historyLimit = 50

// targetState is the remembered deploy state for one target.
type targetState struct {
	// lastHealthy holds the most recent manifest set that passed health
	// checks. It is the rollback destination.
	lastHealthy *ManifestSet
	// lastHealthyRecord mirrors the record that produced lastHealthy.
	lastHealthyRecord *Record
	records           []*Record
}

// Store keeps per-target rollout history in memory. The engine consults it
// for idempotence checks and rollback destinations.
type Store struct {
	mu    sync.Mutex
	state map[string]*targetState
}

// NewStore creates an empty rollout store.
func NewStore() *Store {
	return &Store{state: make(map[string]*targetState)}
}

func (s *Store) forTarget(name string) *targetState {
	st, ok := s.state[name]
	if !ok {
		st = &targetState{}
		s.state[name] = st
	}
	return st
}

// LastHealthy returns the newest healthy manifest set for the target, or nil
// if the target never reached a healthy state.
func (s *Store) LastHealthy(name string) *ManifestSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forTarget(name).lastHealthy
}

// CurrentRevision returns the revision of the target's most recent healthy
// deploy, or "" if there is none.
func (s *Store) CurrentRevision(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.forTarget(name)
	if st.lastHealthy == nil {
		return ""
	}
	return st.lastHealthy.Revision
}

// HealthyRecord returns a copy of the record behind the target's last
// healthy deploy, or nil.
func (s *Store) HealthyRecord(name string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.forTarget(name)
	if st.lastHealthyRecord == nil {
		return nil
	}
	copied := *st.lastHealthyRecord
	return &copied
}

// RecordOutcome appends a finished rollout record to the target's history
// and, for healthy outcomes, promotes the manifest set to the rollback
// destination.
func (s *Store) RecordOutcome(rec *Record, set *ManifestSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.forTarget(rec.Target)
	if rec.Status == StatusHealthy {
		st.lastHealthy = set
		copied := *rec
		st.lastHealthyRecord = &copied
	}

	st.records = append(st.records, rec)
	if len(st.records) > historyLimit {
		st.records = st.records[len(st.records)-historyLimit:]
	}
}

// History returns copies of the target's rollout records, newest last.
func (s *Store) History(name string) []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.forTarget(name)
	out := make([]*Record, 0, len(st.records))
	for _, rec := range st.records {
		copied := *rec
		out = append(out, &copied)
	}
	return out
}
