// Package approval holds durable, TTL-bound approval requests and the
// state machine that gates action execution on a human decision.
package approval

import (
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
)

// Status tracks where an approval is in its lifecycle.
type Status string

const (
	// StatusPending means waiting for an analyst decision.
	StatusPending Status = "pending"

	// StatusApproved means an analyst signed off. Terminal.
	StatusApproved Status = "approved"

	// StatusRejected means an analyst declined. Terminal.
	StatusRejected Status = "rejected"

	// StatusExpired means the decision deadline passed. Terminal.
	StatusExpired Status = "expired"

	// StatusCancelled means the owning case was aborted. Terminal.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// DefaultTTL is the decision window granted to a new approval.
const DefaultTTL = time.Hour

// Approval is a request for human sign-off on a batch of actions. It
// references at least one action; CaseID is empty for approvals opened
// through the standalone plan endpoint.
type Approval struct {
	ApprovalID string          `json:"approval_id"`
	CaseID     string          `json:"case_id"`
	Actions    []action.Action `json:"actions"`
	Status     Status          `json:"status"`

	ApprovedBy     string `json:"approved_by,omitempty"`
	DecisionReason string `json:"decision_reason,omitempty"`
	Notes          string `json:"notes,omitempty"`

	// context carried from the alert for the reviewing analyst
	AlertID          string  `json:"alert_id,omitempty"`
	Indicator        string  `json:"indicator,omitempty"`
	TriageVerdict    string  `json:"triage_verdict,omitempty"`
	TriageConfidence float64 `json:"triage_confidence,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	TTLSeconds int        `json:"ttl_seconds"`
}

// ExpiredAt reports whether the decision deadline has passed at the
// given instant. Checked before honoring any decision: a stale
// "approved" signal arriving after expiry is never executed.
func (a *Approval) ExpiredAt(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}
