// Package action defines the remediation action model shared by the
// planner, approval gate and executor.
package action

import "time"

// Type identifies what an action does.
type Type string

const (
	TypeBlockIP        Type = "block_ip"
	TypeBlockDomain    Type = "block_domain"
	TypeIsolateHost    Type = "isolate_host"
	TypeKillProcess    Type = "kill_process"
	TypeQuarantineFile Type = "quarantine_file"
	TypeCreateTicket   Type = "create_ticket"
	TypeNotify         Type = "notify"
	TypeCloseAlert     Type = "close_alert"
	TypeEscalate       Type = "escalate"
	TypeMonitor        Type = "monitor"
)

// Category groups actions by intent for audit and reporting.
type Category string

const (
	CategoryContainment   Category = "containment"
	CategoryEradication   Category = "eradication"
	CategoryCommunication Category = "communication"
	CategoryTriage        Category = "triage"
)

// Priority orders actions by urgency.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

// Action is one remediation or communication step. List order is
// significant: execution order equals planning order.
type Action struct {
	Type                  Type       `json:"action_type"`
	Target                string     `json:"target"`
	System                string     `json:"system,omitempty"`
	Reason                string     `json:"reason"`
	RequiresApproval      bool       `json:"requires_approval"`
	JustificationRequired bool       `json:"justification_required,omitempty"`
	Category              Category   `json:"category"`
	Priority              Priority   `json:"priority"`
	PolicyVersion         string     `json:"policy_version"`
	CreatedAt             time.Time  `json:"created_at,omitempty"`
	ExecutedAt            *time.Time `json:"executed_at,omitempty"`
	ExecutedBy            string     `json:"executed_by,omitempty"`
	ExecutionResult       *Result    `json:"execution_result,omitempty"`
}

// ResultStatus is the outcome of one action execution attempt.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
)

// Result records one action's execution outcome. Failures are data here,
// not errors: one action failing never aborts the rest of the batch.
type Result struct {
	Type    Type         `json:"action"`
	Target  string       `json:"target"`
	Status  ResultStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Executed reports whether the action already ran. Used by the executor
// to keep re-execution of the same approval idempotent.
func (a *Action) Executed() bool {
	return a.ExecutedAt != nil
}
