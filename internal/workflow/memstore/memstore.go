// Package memstore is an in-memory checkpoint store for cases. It is
// used by tests and by deployments that accept losing suspended cases
// on restart.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/linnemanlabs/sentinel/internal/workflow"
)

// Store holds serialized case checkpoints keyed by case id. Cases are
// stored as JSON so reads observe exactly what a durable store would
// round-trip, not shared pointers into engine state.
type Store struct {
	mu    sync.RWMutex
	cases map[string][]byte
}

func New() *Store {
	return &Store{cases: map[string][]byte{}}
}

// Save serializes and stores the case, replacing any prior checkpoint.
func (s *Store) Save(_ context.Context, c *workflow.Case) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal case: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = raw
	return nil
}

// Get returns the checkpointed case, ok=false when none exists.
func (s *Store) Get(_ context.Context, caseID string) (*workflow.Case, bool, error) {
	s.mu.RLock()
	raw, ok := s.cases[caseID]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	var c workflow.Case
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false, fmt.Errorf("unmarshal case: %w", err)
	}
	return &c, true, nil
}

// Len reports how many cases are checkpointed.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cases)
}
