package workflow

import (
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/alert"
	"github.com/linnemanlabs/sentinel/internal/enrich"
	"github.com/linnemanlabs/sentinel/internal/triage"
)

// Phase identifies one step of the fixed case sequence.
type Phase string

const (
	PhaseIngest  Phase = "ingest"
	PhaseEnrich  Phase = "enrich"
	PhaseTriage  Phase = "triage"
	PhasePlan    Phase = "plan"
	PhaseRoute   Phase = "route"
	PhaseApprove Phase = "approval"
	PhaseExecute Phase = "execute"
	PhaseClose   Phase = "close"
)

// Status tracks where a case is in its lifecycle.
type Status string

const (
	// StatusRunning means a phase is currently executing.
	StatusRunning Status = "running"

	// StatusAwaitingApproval means the case is durably suspended at the
	// approval boundary. No thread or connection is held.
	StatusAwaitingApproval Status = "awaiting_approval"

	// StatusCompleted means the case reached a terminal success state.
	StatusCompleted Status = "completed"

	// StatusFailed means a phase aborted the case.
	StatusFailed Status = "failed"

	// StatusExpired means the approval window lapsed before a decision.
	StatusExpired Status = "expired"

	// StatusCancelled means the case was aborted while suspended.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the case can no longer progress.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired || s == StatusCancelled
}

// AuditStatus is the outcome recorded for one phase invocation.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailed  AuditStatus = "failed"
)

// AuditEntry is one append-only record of a phase invocation. A phase
// invoked N times produces exactly N entries, including retries and
// failures.
type AuditEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Phase     Phase       `json:"phase"`
	Event     string      `json:"event"`
	Actor     string      `json:"actor"`
	Status    AuditStatus `json:"status"`
	Error     string      `json:"error,omitempty"`
}

// Case is the full workflow state for one alert, keyed by a stable case
// id. Each field is written by exactly one phase and read-only after;
// the case is checkpointed after every transition and archived at a
// terminal state.
type Case struct {
	ID        string       `json:"case_id"`
	Alert     *alert.Alert `json:"alert,omitempty"`
	Indicator string       `json:"indicator"`

	Enrichment enrich.Bundle   `json:"enrichment,omitempty"`        // enrich phase
	Triage     *triage.Result  `json:"triage,omitempty"`            // triage phase
	Actions    []action.Action `json:"actions,omitempty"`           // plan phase
	ApprovalID string          `json:"approval_id,omitempty"`       // route phase
	Results    []action.Result `json:"execution_results,omitempty"` // execute phase

	AuditLog []AuditEntry `json:"audit_log"`
	Phase    Phase        `json:"phase"`
	Status   Status       `json:"status"`
	Error    string       `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AuditCount returns how many audit entries exist for a phase.
func (c *Case) AuditCount(p Phase) int {
	n := 0
	for _, e := range c.AuditLog {
		if e.Phase == p {
			n++
		}
	}
	return n
}

// PhaseSucceeded reports whether an audit entry already recorded success
// for the phase. The engine uses this to refuse replays on resume.
func (c *Case) PhaseSucceeded(p Phase) bool {
	for _, e := range c.AuditLog {
		if e.Phase == p && e.Status == AuditSuccess {
			return true
		}
	}
	return false
}
