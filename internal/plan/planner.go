// Package plan turns a triage verdict into an ordered action list.
// Planning is pure and deterministic: no I/O, no clock reads beyond
// stamping created_at, same inputs always produce the same plan.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/triage"
)

// Policy is the configurable planning policy table.
type Policy struct {
	// AutoCloseConfidence is the benign confidence threshold: at or
	// above it the alert auto-closes, below it the indicator is
	// monitored pending approval.
	AutoCloseConfidence float64

	// Version is stamped on every planned action for audit.
	Version string
}

// DefaultPolicy matches the shipped policy table.
func DefaultPolicy() Policy {
	return Policy{
		AutoCloseConfidence: 0.7,
		Version:             "v1",
	}
}

// Context carries the alert facts the policy table keys on.
type Context struct {
	Indicator string
	AlertID   string
	Host      string // affected host, empty if unknown
}

// Error means planning could not produce a valid action list: either the
// verdict is unknown or a known verdict yielded zero actions. Both abort
// the plan phase; there is no silent no-op.
type Error struct {
	Verdict triage.Verdict
	Detail  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("planning failed for verdict %q: %s", e.Verdict, e.Detail)
}

// Planner applies a Policy to triage results.
type Planner struct {
	policy Policy
}

// New creates a planner. Zero-value policy fields fall back to defaults.
func New(policy Policy) *Planner {
	if policy.AutoCloseConfidence <= 0 {
		policy.AutoCloseConfidence = DefaultPolicy().AutoCloseConfidence
	}
	if policy.Version == "" {
		policy.Version = DefaultPolicy().Version
	}
	return &Planner{policy: policy}
}

// Plan maps verdict × confidence × context to an ordered action list.
func (p *Planner) Plan(result *triage.Result, pctx Context) ([]action.Action, error) {
	if result == nil {
		return nil, &Error{Detail: "no triage result"}
	}
	if !result.Verdict.Known() {
		return nil, &Error{Verdict: result.Verdict, Detail: "unrecognized verdict"}
	}

	var actions []action.Action
	switch result.Verdict {
	case triage.VerdictBenign:
		actions = p.planBenign(result, pctx)
	case triage.VerdictSuspicious:
		actions = p.planSuspicious(result, pctx)
	case triage.VerdictMalicious:
		actions = p.planMalicious(result, pctx)
	case triage.VerdictNeedsInvestigation:
		actions = p.planNeedsInvestigation(result, pctx)
	}

	if len(actions) == 0 {
		return nil, &Error{Verdict: result.Verdict, Detail: "policy produced an empty plan"}
	}

	now := time.Now().UTC()
	for i := range actions {
		actions[i].PolicyVersion = p.policy.Version
		actions[i].CreatedAt = now
	}
	return actions, nil
}

func (p *Planner) planBenign(result *triage.Result, pctx Context) []action.Action {
	if result.Confidence >= p.policy.AutoCloseConfidence {
		return []action.Action{{
			Type:             action.TypeCloseAlert,
			Target:           pctx.AlertID,
			System:           "sentinel",
			Reason:           fmt.Sprintf("benign verdict with high confidence (%.2f)", result.Confidence),
			RequiresApproval: false,
			Category:         action.CategoryTriage,
			Priority:         action.PriorityLow,
		}}
	}
	return []action.Action{{
		Type:             action.TypeMonitor,
		Target:           pctx.Indicator,
		System:           "sentinel",
		Reason:           fmt.Sprintf("benign but low confidence (%.2f), monitor for 24h", result.Confidence),
		RequiresApproval: true,
		Category:         action.CategoryTriage,
		Priority:         action.PriorityLow,
	}}
}

func (p *Planner) planSuspicious(result *triage.Result, pctx Context) []action.Action {
	return []action.Action{
		{
			Type:             action.TypeEscalate,
			Target:           pctx.AlertID,
			System:           "ticketing",
			Reason:           fmt.Sprintf("suspicious activity detected (confidence %.2f)", result.Confidence),
			RequiresApproval: true,
			Category:         action.CategoryTriage,
			Priority:         action.PriorityMedium,
		},
		{
			Type:             action.TypeCreateTicket,
			Target:           "security-ops-team",
			System:           "ticketing",
			Reason:           fmt.Sprintf("investigation required for %s", pctx.Indicator),
			RequiresApproval: false,
			Category:         action.CategoryCommunication,
			Priority:         action.PriorityMedium,
		},
	}
}

func (p *Planner) planMalicious(result *triage.Result, pctx Context) []action.Action {
	blockType := action.TypeBlockDomain
	if looksLikeIP(pctx.Indicator) {
		blockType = action.TypeBlockIP
	}

	actions := []action.Action{{
		Type:                  blockType,
		Target:                pctx.Indicator,
		System:                "firewall",
		Reason:                fmt.Sprintf("malicious indicator confirmed (confidence %.2f)", result.Confidence),
		RequiresApproval:      true,
		JustificationRequired: true,
		Category:              action.CategoryContainment,
		Priority:              action.PriorityImmediate,
	}}

	if pctx.Host != "" {
		actions = append(actions, action.Action{
			Type:             action.TypeIsolateHost,
			Target:           pctx.Host,
			System:           "edr",
			Reason:           fmt.Sprintf("host contacted malicious indicator %s", pctx.Indicator),
			RequiresApproval: true,
			Category:         action.CategoryContainment,
			Priority:         action.PriorityImmediate,
		})
	}

	actions = append(actions,
		action.Action{
			Type:             action.TypeCreateTicket,
			Target:           "incident-response-team",
			System:           "ticketing",
			Reason:           fmt.Sprintf("confirmed malicious indicator: %s", pctx.Indicator),
			RequiresApproval: false,
			Category:         action.CategoryCommunication,
			Priority:         action.PriorityImmediate,
		},
		action.Action{
			Type:             action.TypeNotify,
			Target:           "#security-alerts",
			System:           "chat",
			Reason:           fmt.Sprintf("malicious activity: %s", pctx.Indicator),
			RequiresApproval: false,
			Category:         action.CategoryCommunication,
			Priority:         action.PriorityImmediate,
		},
	)
	return actions
}

func (p *Planner) planNeedsInvestigation(result *triage.Result, pctx Context) []action.Action {
	return []action.Action{
		{
			Type:             action.TypeCreateTicket,
			Target:           "security-ops-team",
			System:           "ticketing",
			Reason:           fmt.Sprintf("ambiguous indicator requires investigation: %s", pctx.Indicator),
			RequiresApproval: false,
			Category:         action.CategoryCommunication,
			Priority:         action.PriorityHigh,
		},
		{
			Type:             action.TypeEscalate,
			Target:           pctx.AlertID,
			System:           "ticketing",
			Reason:           "insufficient data for automated decision",
			RequiresApproval: true,
			Category:         action.CategoryTriage,
			Priority:         action.PriorityHigh,
		},
	}
}

// RequiresApproval reports whether any action in the plan needs human
// sign-off. The engine routes on this.
func RequiresApproval(actions []action.Action) bool {
	for _, a := range actions {
		if a.RequiresApproval {
			return true
		}
	}
	return false
}

// looksLikeIP distinguishes IPv4/IPv6 literals from domain names well
// enough for block-type selection. Anything with letters is a domain.
func looksLikeIP(indicator string) bool {
	if strings.Contains(indicator, ":") {
		return true // IPv6
	}
	for _, r := range indicator {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return strings.Contains(indicator, ".")
}
