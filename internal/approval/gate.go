package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/action"
)

// Decision is an analyst's call on a pending approval.
type Decision struct {
	Decision   string `json:"decision"` // "approved" or "rejected"
	ApprovedBy string `json:"approved_by"`
	Reason     string `json:"reason,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Validate checks the decision shape before it touches any state.
func (d *Decision) Validate() error {
	if d.Decision != "approved" && d.Decision != "rejected" {
		return fmt.Errorf("decision must be %q or %q, got %q", "approved", "rejected", d.Decision)
	}
	if d.ApprovedBy == "" {
		return fmt.Errorf("approved_by is required")
	}
	return nil
}

// Gate enforces the approval state machine over a Store:
// pending -> {approved, rejected} by analyst, pending -> expired by time.
// No transition is accepted from a terminal state.
type Gate struct {
	store  Store
	ttl    time.Duration
	logger log.Logger
	now    func() time.Time
}

// NewGate creates a gate. A zero ttl falls back to DefaultTTL.
func NewGate(store Store, ttl time.Duration, logger log.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Gate{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Create opens a pending approval for the given actions and persists it.
func (g *Gate) Create(ctx context.Context, caseID string, actions []action.Action, meta Meta) (*Approval, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("approval requires at least one action")
	}

	now := g.now().UTC()
	a := &Approval{
		ApprovalID:       uuid.NewString(),
		CaseID:           caseID,
		Actions:          actions,
		Status:           StatusPending,
		AlertID:          meta.AlertID,
		Indicator:        meta.Indicator,
		TriageVerdict:    meta.TriageVerdict,
		TriageConfidence: meta.TriageConfidence,
		CreatedAt:        now,
		ExpiresAt:        now.Add(g.ttl),
		TTLSeconds:       int(g.ttl.Seconds()),
	}

	if err := g.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("save approval: %w", err)
	}

	g.logger.Info(ctx, "approval created",
		"approval_id", a.ApprovalID,
		"case_id", caseID,
		"actions", len(actions),
		"expires_at", a.ExpiresAt,
	)
	return a, nil
}

// Meta is the alert context attached to a new approval for the analyst.
type Meta struct {
	AlertID          string
	Indicator        string
	TriageVerdict    string
	TriageConfidence float64
}

// Get returns an approval by id. Expiry is applied on read: an overdue
// pending record is transitioned to expired before being returned.
func (g *Gate) Get(ctx context.Context, approvalID string) (*Approval, error) {
	a, ok, err := g.store.Get(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	if a.Status == StatusPending && a.ExpiredAt(g.now()) {
		if err := g.expire(ctx, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Decide applies an analyst decision. Expiry is checked before the
// decision is honored; terminal states reject with ErrNotPending.
func (g *Gate) Decide(ctx context.Context, approvalID string, d *Decision) (*Approval, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	a, ok, err := g.store.Get(ctx, approvalID)
	if err != nil {
		return nil, fmt.Errorf("get approval: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}

	if a.Status == StatusPending && a.ExpiredAt(g.now()) {
		if err := g.expire(ctx, a); err != nil {
			return nil, err
		}
		return a, ErrExpired
	}
	if a.Status.Terminal() {
		if a.Status == StatusExpired {
			return a, ErrExpired
		}
		return a, ErrNotPending
	}

	now := g.now().UTC()
	if d.Decision == "approved" {
		a.Status = StatusApproved
	} else {
		a.Status = StatusRejected
	}
	a.ApprovedBy = d.ApprovedBy
	a.DecisionReason = d.Reason
	a.Notes = d.Notes
	a.DecidedAt = &now

	if err := g.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update approval: %w", err)
	}

	g.logger.Info(ctx, "approval decided",
		"approval_id", a.ApprovalID,
		"case_id", a.CaseID,
		"status", string(a.Status),
		"approved_by", a.ApprovedBy,
	)
	return a, nil
}

// Cancel marks a pending approval cancelled (e.g. the case aborted).
func (g *Gate) Cancel(ctx context.Context, approvalID string) error {
	a, ok, err := g.store.Get(ctx, approvalID)
	if err != nil {
		return fmt.Errorf("get approval: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	if a.Status.Terminal() {
		return ErrNotPending
	}

	now := g.now().UTC()
	a.Status = StatusCancelled
	a.DecidedAt = &now
	if err := g.store.Update(ctx, a); err != nil {
		return fmt.Errorf("update approval: %w", err)
	}
	return nil
}

// ListPending returns approvals still awaiting a decision, transitioning
// any overdue ones to expired along the way.
func (g *Gate) ListPending(ctx context.Context) ([]*Approval, error) {
	pending, err := g.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	active := pending[:0]
	for _, a := range pending {
		if a.ExpiredAt(g.now()) {
			if err := g.expire(ctx, a); err != nil {
				return nil, err
			}
			continue
		}
		active = append(active, a)
	}
	return active, nil
}

// SweepExpired transitions every overdue pending approval to expired.
// Intended to run periodically for reconciliation.
func (g *Gate) SweepExpired(ctx context.Context) (int, error) {
	pending, err := g.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	n := 0
	for _, a := range pending {
		if !a.ExpiredAt(g.now()) {
			continue
		}
		if err := g.expire(ctx, a); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Executed persists execution bookkeeping on an approved record so a
// re-execution of the same approval cannot duplicate side effects.
func (g *Gate) Executed(ctx context.Context, a *Approval) error {
	if err := g.store.RecordExecution(ctx, a); err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// SetNow overrides the gate's clock. Test hook.
func (g *Gate) SetNow(now func() time.Time) {
	g.now = now
}

func (g *Gate) expire(ctx context.Context, a *Approval) error {
	now := g.now().UTC()
	a.Status = StatusExpired
	a.DecidedAt = &now
	if err := g.store.Update(ctx, a); err != nil {
		return fmt.Errorf("expire approval: %w", err)
	}
	g.logger.Info(ctx, "approval expired",
		"approval_id", a.ApprovalID,
		"case_id", a.CaseID,
		"expires_at", a.ExpiresAt,
	)
	return nil
}
