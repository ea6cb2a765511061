package analysis

import (
	"sync"
	"time"

	"trader-x-ai/internal/types"
)

// Store keeps the most recent analysis per pair. It is shared by the
// strategy loops, the state snapshot and the HTTP API.
type Store struct {
	mu   sync.RWMutex
	last map[string]types.AnalysisRecord
}

func NewStore() *Store {
	return &Store{last: make(map[string]types.AnalysisRecord)}
}

func (s *Store) Put(pair string, a types.Analysis, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[pair] = types.AnalysisRecord{Timestamp: at, Data: a}
}

func (s *Store) Get(pair string) (types.AnalysisRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[pair]
	return r, ok
}

// Snapshot returns a copy safe to serialize without holding the lock.
func (s *Store) Snapshot() map[string]types.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.AnalysisRecord, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}
