// Package workflow drives a case through the fixed phase sequence
// ingest -> enrich -> triage -> plan -> route -> {approval -> execute | close},
// checkpointing state after every transition and appending exactly one
// audit entry per phase invocation. Suspension at the approval boundary
// is pure persisted state: no thread, connection, or in-memory wait is
// held while a human decides.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/alert"
	"github.com/linnemanlabs/sentinel/internal/approval"
	"github.com/linnemanlabs/sentinel/internal/enrich"
	"github.com/linnemanlabs/sentinel/internal/plan"
	"github.com/linnemanlabs/sentinel/internal/triage"
)

// Enricher collects intelligence for one indicator.
type Enricher interface {
	Collect(ctx context.Context, indicator string) (enrich.Bundle, error)
}

// Classifier produces a validated triage result for one indicator.
type Classifier interface {
	Analyze(ctx context.Context, indicator string, bundle enrich.Bundle, alertCtx map[string]string) (*triage.Result, error)
}

// ApprovalGate is the slice of the approval gate the engine drives.
type ApprovalGate interface {
	Create(ctx context.Context, caseID string, actions []action.Action, meta approval.Meta) (*approval.Approval, error)
	Decide(ctx context.Context, approvalID string, d *approval.Decision) (*approval.Approval, error)
	Executed(ctx context.Context, a *approval.Approval) error
	Cancel(ctx context.Context, approvalID string) error
}

// ActionRunner executes actions in list order, idempotently per action.
type ActionRunner interface {
	Run(ctx context.Context, actions []action.Action, executedBy string) []action.Result
}

// EventPublisher emits case lifecycle events. May be nil.
type EventPublisher interface {
	Publish(ctx context.Context, event string, c *Case)
}

// Hooks receives engine observations (wired to Prometheus by main).
type Hooks struct {
	ObservePhase    func(phase Phase, status AuditStatus, dur time.Duration)
	ObserveCase     func(status Status, dur time.Duration)
	ObserveApproval func(decision approval.Status)
	ObserveAction   func(status action.ResultStatus)
}

// Outcome is what one engine invocation returns: either a terminal case
// or a durable suspension awaiting a human decision.
type Outcome struct {
	Case             *Case           `json:"case"`
	AwaitingApproval bool            `json:"awaiting_approval"`
	ApprovalID       string          `json:"approval_id,omitempty"`
	PendingActions   []action.Action `json:"pending_actions,omitempty"`
}

// Engine is the phase sequencer. Each case exclusively owns its state
// for the duration of a phase; cases never share checkpoint keys, so no
// cross-case locking is needed.
type Engine struct {
	checkpoints CheckpointStore
	enricher    Enricher
	classifier  Classifier
	planner     *plan.Planner
	gate        ApprovalGate
	runner      ActionRunner
	events      EventPublisher
	logger      log.Logger
	hooks       Hooks
}

// NewEngine wires the engine with explicit dependencies. events may be
// nil when no event bus is configured.
func NewEngine(
	checkpoints CheckpointStore,
	enricher Enricher,
	classifier Classifier,
	planner *plan.Planner,
	gate ApprovalGate,
	runner ActionRunner,
	events EventPublisher,
	logger log.Logger,
	hooks Hooks,
) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	return &Engine{
		checkpoints: checkpoints,
		enricher:    enricher,
		classifier:  classifier,
		planner:     planner,
		gate:        gate,
		runner:      runner,
		events:      events,
		logger:      logger,
		hooks:       hooks,
	}
}

// ErrNotSuspended means a resume call arrived for a case that is not
// parked at the approval boundary.
var ErrNotSuspended = errors.New("case is not awaiting approval")

// ErrCaseNotFound means no checkpoint exists for the case id.
var ErrCaseNotFound = errors.New("case not found")

// ErrNotInterrupted means a recover call arrived for a case that is not
// sitting mid-run: it is terminal, or suspended and owned by Resume.
var ErrNotInterrupted = errors.New("case is not interrupted")

// Start ingests an alert, creates a case and drives it until it reaches
// a terminal state or suspends at the approval boundary. The returned
// error is infrastructural (checkpoint store failure); phase failures
// are captured in the case itself.
func (e *Engine) Start(ctx context.Context, al *alert.Alert) (*Outcome, error) {
	now := time.Now().UTC()
	c := &Case{
		ID:        ulid.Make().String(),
		Alert:     al,
		Indicator: al.PrimaryIndicator(),
		Phase:     PhaseIngest,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.checkpoints.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("checkpoint case: %w", err)
	}
	e.publish(ctx, "case.created", c)

	return e.advance(ctx, c)
}

// Get loads a case checkpoint.
func (e *Engine) Get(ctx context.Context, caseID string) (*Case, error) {
	c, ok, err := e.checkpoints.Get(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("load case: %w", err)
	}
	if !ok {
		return nil, ErrCaseNotFound
	}
	return c, nil
}

// Resume re-enters a suspended case with an analyst decision. It loads
// the checkpoint, validates the suspension marker, applies the decision
// through the gate and continues exactly where the case stopped;
// already-completed phases are never re-executed.
func (e *Engine) Resume(ctx context.Context, caseID string, d *approval.Decision) (*Outcome, error) {
	c, err := e.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusAwaitingApproval || c.Phase != PhaseApprove || c.ApprovalID == "" {
		return nil, ErrNotSuspended
	}

	L := e.logger.With("case_id", c.ID, "approval_id", c.ApprovalID)

	ap, err := e.gate.Decide(ctx, c.ApprovalID, d)
	switch {
	case errors.Is(err, approval.ErrExpired):
		// expired is treated as rejected for routing and recorded as a
		// failed approval phase
		e.audit(c, PhaseApprove, "approval expired", d.ApprovedBy, AuditFailed, approval.ErrExpired.Error())
		e.observeApproval(approval.StatusExpired)
		c.Status = StatusExpired
		e.finish(ctx, c)
		L.Info(ctx, "case expired at approval boundary")
		return &Outcome{Case: c}, err
	case err != nil:
		return nil, err
	}

	c.Status = StatusRunning
	e.observeApproval(ap.Status)

	if ap.Status == approval.StatusRejected {
		e.audit(c, PhaseApprove, "approval rejected", d.ApprovedBy, AuditSuccess, "")
		c.Phase = PhaseClose
		c.Status = StatusCompleted
		e.finish(ctx, c)
		L.Info(ctx, "case closed after rejection", "approved_by", d.ApprovedBy)
		return &Outcome{Case: c}, nil
	}

	e.audit(c, PhaseApprove, "approval granted", d.ApprovedBy, AuditSuccess, "")
	c.Phase = PhaseExecute
	if err := e.checkpoints.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("checkpoint case: %w", err)
	}
	e.publish(ctx, "approval.decided", c)

	return e.executeApproved(ctx, c, ap)
}

// Recover re-drives a case whose process died mid-run. It picks up from
// the last checkpoint; phases that already recorded success are never
// re-executed, only the interrupted phase onward runs.
func (e *Engine) Recover(ctx context.Context, caseID string) (*Outcome, error) {
	c, err := e.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusRunning {
		return nil, ErrNotInterrupted
	}

	e.logger.Info(ctx, "recovering interrupted case",
		"case_id", c.ID,
		"phase", string(c.Phase),
	)
	return e.advance(ctx, c)
}

// Abort cancels a suspended case: the pending approval transitions to
// cancelled and the case finishes without executing anything.
func (e *Engine) Abort(ctx context.Context, caseID, abortedBy, reason string) (*Case, error) {
	c, err := e.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusAwaitingApproval || c.Phase != PhaseApprove || c.ApprovalID == "" {
		return nil, ErrNotSuspended
	}

	if err := e.gate.Cancel(ctx, c.ApprovalID); err != nil {
		return nil, fmt.Errorf("cancel approval: %w", err)
	}

	e.audit(c, PhaseApprove, "case aborted", abortedBy, AuditFailed, reason)
	e.observeApproval(approval.StatusCancelled)
	c.Status = StatusCancelled
	c.Error = reason
	e.finish(ctx, c)

	e.logger.Info(ctx, "case aborted",
		"case_id", c.ID,
		"approval_id", c.ApprovalID,
		"aborted_by", abortedBy,
	)
	return c, nil
}

// advance runs phases in order from the case's current phase marker.
func (e *Engine) advance(ctx context.Context, c *Case) (*Outcome, error) {
	type step struct {
		phase Phase
		event string
		fn    func(context.Context, *Case) error
	}
	steps := []step{
		{PhaseIngest, "ingested", e.runIngest},
		{PhaseEnrich, "enriched", e.runEnrich},
		{PhaseTriage, "triaged", e.runTriage},
		{PhasePlan, "planned", e.runPlan},
	}

	for _, s := range steps {
		// never replay a phase that already recorded success
		if c.PhaseSucceeded(s.phase) {
			continue
		}
		c.Phase = s.phase
		if err := e.runPhase(ctx, c, s.phase, s.event, s.fn); err != nil {
			return e.abort(ctx, c, err)
		}
	}

	return e.route(ctx, c)
}

// route decides between direct close and the approval boundary.
func (e *Engine) route(ctx context.Context, c *Case) (*Outcome, error) {
	c.Phase = PhaseRoute

	if !plan.RequiresApproval(c.Actions) {
		e.audit(c, PhaseRoute, "no approval required", "system", AuditSuccess, "")
		return e.close(ctx, c)
	}

	ap, err := e.gate.Create(ctx, c.ID, c.Actions, approval.Meta{
		AlertID:          c.alertID(),
		Indicator:        c.Indicator,
		TriageVerdict:    string(c.Triage.Verdict),
		TriageConfidence: c.Triage.Confidence,
	})
	if err != nil {
		e.audit(c, PhaseRoute, "approval creation failed", "system", AuditFailed, err.Error())
		return e.abort(ctx, c, err)
	}

	c.ApprovalID = ap.ApprovalID
	e.audit(c, PhaseRoute, "approval requested", "system", AuditSuccess, "")
	c.Phase = PhaseApprove
	c.Status = StatusAwaitingApproval
	c.UpdatedAt = time.Now().UTC()

	// durable suspension: serialize state and return control
	if err := e.checkpoints.Save(ctx, c); err != nil {
		return nil, fmt.Errorf("checkpoint case: %w", err)
	}
	e.publish(ctx, "case.awaiting_approval", c)

	e.logger.Info(ctx, "case suspended for approval",
		"case_id", c.ID,
		"approval_id", ap.ApprovalID,
		"pending_actions", len(ap.Actions),
		"expires_at", ap.ExpiresAt,
	)

	return &Outcome{
		Case:             c,
		AwaitingApproval: true,
		ApprovalID:       ap.ApprovalID,
		PendingActions:   ap.Actions,
	}, nil
}

// close executes any directly-runnable actions and completes the case.
func (e *Engine) close(ctx context.Context, c *Case) (*Outcome, error) {
	c.Phase = PhaseClose
	if err := e.runPhase(ctx, c, PhaseClose, "closed", func(ctx context.Context, c *Case) error {
		c.Results = e.runner.Run(ctx, c.Actions, "system")
		e.observeActions(c.Results)
		return nil
	}); err != nil {
		return e.abort(ctx, c, err)
	}

	c.Status = StatusCompleted
	e.finish(ctx, c)
	return &Outcome{Case: c}, nil
}

// executeApproved runs the approved batch and completes the case.
func (e *Engine) executeApproved(ctx context.Context, c *Case, ap *approval.Approval) (*Outcome, error) {
	if err := e.runPhase(ctx, c, PhaseExecute, "executed", func(ctx context.Context, c *Case) error {
		results := e.runner.Run(ctx, ap.Actions, ap.ApprovedBy)
		e.observeActions(results)
		if err := e.gate.Executed(ctx, ap); err != nil {
			return err
		}
		c.Actions = ap.Actions
		c.Results = results
		return nil
	}); err != nil {
		return e.abort(ctx, c, err)
	}

	c.Status = StatusCompleted
	e.publish(ctx, "actions.executed", c)
	e.finish(ctx, c)
	return &Outcome{Case: c}, nil
}

func (e *Engine) runIngest(_ context.Context, c *Case) error {
	if c.Indicator == "" {
		return fmt.Errorf("alert carries no indicator")
	}
	return nil
}

func (e *Engine) runEnrich(ctx context.Context, c *Case) error {
	bundle, err := e.enricher.Collect(ctx, c.Indicator)
	// per-source failures are data; only an all-failed bundle aborts
	c.Enrichment = bundle
	return err
}

func (e *Engine) runTriage(ctx context.Context, c *Case) error {
	result, err := e.classifier.Analyze(ctx, c.Indicator, c.Enrichment, c.alertContext())
	if err != nil {
		return err
	}
	c.Triage = result
	return nil
}

func (e *Engine) runPlan(_ context.Context, c *Case) error {
	actions, err := e.planner.Plan(c.Triage, plan.Context{
		Indicator: c.Indicator,
		AlertID:   c.alertID(),
		Host:      c.host(),
	})
	if err != nil {
		return err
	}
	c.Actions = actions
	return nil
}

// runPhase wraps one phase invocation with exactly one audit entry,
// success or failed, and checkpoints the case afterward.
func (e *Engine) runPhase(ctx context.Context, c *Case, phase Phase, event string, fn func(context.Context, *Case) error) error {
	start := time.Now()
	err := fn(ctx, c)
	dur := time.Since(start)

	status := AuditSuccess
	detail := ""
	if err != nil {
		status = AuditFailed
		detail = err.Error()
	}
	e.audit(c, phase, event, "system", status, detail)

	if e.hooks.ObservePhase != nil {
		e.hooks.ObservePhase(phase, status, dur)
	}

	c.UpdatedAt = time.Now().UTC()
	if saveErr := e.checkpoints.Save(ctx, c); saveErr != nil {
		e.logger.Error(ctx, saveErr, "checkpoint failed", "case_id", c.ID, "phase", string(phase))
		if err == nil {
			return fmt.Errorf("checkpoint case: %w", saveErr)
		}
	}
	return err
}

// abort marks the case failed with a terminal audit trail already in
// place, checkpoints it and reports the failure as case data.
func (e *Engine) abort(ctx context.Context, c *Case, cause error) (*Outcome, error) {
	c.Status = StatusFailed
	c.Error = cause.Error()
	e.finish(ctx, c)

	e.logger.Warn(ctx, "case failed",
		"case_id", c.ID,
		"phase", string(c.Phase),
		"error", cause.Error(),
	)
	return &Outcome{Case: c}, nil
}

// finish stamps the terminal state and checkpoints it.
func (e *Engine) finish(ctx context.Context, c *Case) {
	now := time.Now().UTC()
	c.UpdatedAt = now
	c.CompletedAt = &now

	if err := e.checkpoints.Save(ctx, c); err != nil {
		e.logger.Error(ctx, err, "terminal checkpoint failed", "case_id", c.ID)
	}

	if e.hooks.ObserveCase != nil {
		e.hooks.ObserveCase(c.Status, now.Sub(c.CreatedAt))
	}

	switch c.Status {
	case StatusCompleted:
		e.publish(ctx, "case.completed", c)
	case StatusFailed:
		e.publish(ctx, "case.failed", c)
	case StatusExpired:
		e.publish(ctx, "case.expired", c)
	case StatusCancelled:
		e.publish(ctx, "case.cancelled", c)
	}
}

func (e *Engine) audit(c *Case, phase Phase, event, actor string, status AuditStatus, errDetail string) {
	c.AuditLog = append(c.AuditLog, AuditEntry{
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Event:     event,
		Actor:     actor,
		Status:    status,
		Error:     errDetail,
	})
}

func (e *Engine) publish(ctx context.Context, event string, c *Case) {
	if e.events == nil {
		return
	}
	e.events.Publish(ctx, event, c)
}

func (e *Engine) observeApproval(decision approval.Status) {
	if e.hooks.ObserveApproval != nil {
		e.hooks.ObserveApproval(decision)
	}
}

func (e *Engine) observeActions(results []action.Result) {
	if e.hooks.ObserveAction == nil {
		return
	}
	for _, r := range results {
		e.hooks.ObserveAction(r.Status)
	}
}

func (c *Case) alertID() string {
	if c.Alert == nil {
		return ""
	}
	return c.Alert.AlertID
}

func (c *Case) host() string {
	if c.Alert == nil {
		return ""
	}
	return c.Alert.Host
}

func (c *Case) alertContext() map[string]string {
	if c.Alert == nil {
		return nil
	}
	m := map[string]string{}
	if c.Alert.AlertID != "" {
		m["alert_id"] = c.Alert.AlertID
	}
	if c.Alert.Type != "" {
		m["type"] = c.Alert.Type
	}
	if c.Alert.Severity != "" {
		m["severity"] = c.Alert.Severity
	}
	if c.Alert.Host != "" {
		m["host"] = c.Alert.Host
	}
	if c.Alert.User != "" {
		m["user"] = c.Alert.User
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
