package approval

import (
	"context"
	"errors"
)

// Sentinel errors for gate state violations. None of these are retried.
var (
	// ErrNotFound means no record exists (or its retention lapsed).
	ErrNotFound = errors.New("approval not found")

	// ErrNotPending means a decision arrived for a terminal approval.
	// A late decision call is a conflict, not a silent success.
	ErrNotPending = errors.New("approval is not pending")

	// ErrExpired means the decision deadline passed before the call.
	ErrExpired = errors.New("approval expired")

	// ErrNotApproved means execution was requested without approval.
	ErrNotApproved = errors.New("approval is not approved")
)

// Store is the persistence contract for approvals. Implementations must
// be durable across process restarts: the human decision can arrive
// minutes to hours after the request was created.
type Store interface {
	// Save persists a new approval with its TTL.
	Save(ctx context.Context, a *Approval) error

	// Get returns the approval, or ok=false when the record is missing
	// or its retention window has lapsed.
	Get(ctx context.Context, approvalID string) (*Approval, bool, error)

	// Update persists a transition. It is legal only while the stored
	// record is still pending; otherwise ErrNotFound/ErrNotPending.
	Update(ctx context.Context, a *Approval) error

	// Delete removes the record.
	Delete(ctx context.Context, approvalID string) error

	// RecordExecution persists execution bookkeeping (executed_at,
	// executed_by, per-action results) on an approved record. It is the
	// only write accepted after the pending state; without it,
	// re-executing an approval could duplicate side effects.
	RecordExecution(ctx context.Context, a *Approval) error

	// ListPending enumerates active approvals for reconciliation and
	// expiry sweeps.
	ListPending(ctx context.Context) ([]*Approval, error)
}
