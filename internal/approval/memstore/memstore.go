// Package memstore provides an in-memory implementation of
// approval.Store. Suitable for dev/testing; it is not durable across
// restarts, so production deployments use the postgres store.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/approval"
)

// DefaultRetention is how long a record is readable after creation.
// It deliberately outlives the decision deadline so expired approvals
// stay queryable for a while instead of vanishing mid-conversation.
const DefaultRetention = time.Hour

// Store holds approvals in memory with TTL-based eviction.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*approval.Approval
	retention time.Duration
	now       func() time.Time
}

// New initializes an in-memory Store with the given retention.
// Zero retention falls back to DefaultRetention.
func New(retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		records:   make(map[string]*approval.Approval),
		retention: retention,
		now:       time.Now,
	}
}

// Save implements approval.Store.
func (s *Store) Save(_ context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[a.ApprovalID] = clone(a)
	return nil
}

// Get implements approval.Store. Returns a copy; records past their
// retention window read as absent and are evicted.
func (s *Store) Get(_ context.Context, approvalID string) (*approval.Approval, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.records[approvalID]
	if !ok {
		return nil, false, nil
	}
	if s.lapsed(a) {
		delete(s.records, approvalID)
		return nil, false, nil
	}
	return clone(a), true, nil
}

// Update implements approval.Store. Legal only while the stored record
// is still pending.
func (s *Store) Update(_ context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[a.ApprovalID]
	if !ok || s.lapsed(cur) {
		return approval.ErrNotFound
	}
	if cur.Status != approval.StatusPending {
		return approval.ErrNotPending
	}

	s.records[a.ApprovalID] = clone(a)
	return nil
}

// RecordExecution implements approval.Store. Accepted only for records
// that reached the approved state.
func (s *Store) RecordExecution(_ context.Context, a *approval.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[a.ApprovalID]
	if !ok || s.lapsed(cur) {
		return approval.ErrNotFound
	}
	if cur.Status != approval.StatusApproved {
		return approval.ErrNotApproved
	}

	s.records[a.ApprovalID] = clone(a)
	return nil
}

// Delete implements approval.Store.
func (s *Store) Delete(_ context.Context, approvalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, approvalID)
	return nil
}

// ListPending implements approval.Store.
func (s *Store) ListPending(_ context.Context) ([]*approval.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*approval.Approval
	for _, a := range s.records {
		if a.Status != approval.StatusPending || s.lapsed(a) {
			continue
		}
		out = append(out, clone(a))
	}
	return out, nil
}

// SetNow overrides the clock. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) lapsed(a *approval.Approval) bool {
	return s.now().After(a.CreatedAt.Add(s.retention))
}

// clone deep-copies a record. A shallow copy would share the Actions
// backing array, letting callers rewrite stored state through a value
// returned by Get and bypass the pending-only Update guard.
func clone(a *approval.Approval) *approval.Approval {
	cp := *a
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		cp.DecidedAt = &t
	}
	if a.Actions != nil {
		cp.Actions = make([]action.Action, len(a.Actions))
		copy(cp.Actions, a.Actions)
		for i := range cp.Actions {
			if ts := cp.Actions[i].ExecutedAt; ts != nil {
				t := *ts
				cp.Actions[i].ExecutedAt = &t
			}
			if res := cp.Actions[i].ExecutionResult; res != nil {
				r := *res
				cp.Actions[i].ExecutionResult = &r
			}
		}
	}
	return &cp
}
