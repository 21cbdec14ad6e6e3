// Package caseapi exposes the case workflow over HTTP.
package caseapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/alert"
	"github.com/linnemanlabs/sentinel/internal/approval"
	"github.com/linnemanlabs/sentinel/internal/plan"
	"github.com/linnemanlabs/sentinel/internal/workflow"
)

// CaseService defines the workflow operations caseapi needs.
type CaseService interface {
	Start(ctx context.Context, al *alert.Alert) (*workflow.Outcome, error)
	Resume(ctx context.Context, caseID string, d *approval.Decision) (*workflow.Outcome, error)
	Abort(ctx context.Context, caseID, abortedBy, reason string) (*workflow.Case, error)
	Get(ctx context.Context, caseID string) (*workflow.Case, error)
}

// Approvals is the slice of the approval gate caseapi reads and settles.
type Approvals interface {
	Create(ctx context.Context, caseID string, actions []action.Action, meta approval.Meta) (*approval.Approval, error)
	Get(ctx context.Context, approvalID string) (*approval.Approval, error)
	Decide(ctx context.Context, approvalID string, d *approval.Decision) (*approval.Approval, error)
	ListPending(ctx context.Context) ([]*approval.Approval, error)
	Executed(ctx context.Context, a *approval.Approval) error
}

// ActionRunner executes an approved action batch.
type ActionRunner interface {
	Run(ctx context.Context, actions []action.Action, executedBy string) []action.Result
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger     log.Logger
	cases      CaseService
	approvals  Approvals
	runner     ActionRunner
	planner    *plan.Planner
	decisionMW func(http.Handler) http.Handler
}

// New creates a new API handler.
func New(logger log.Logger, cases CaseService, approvals Approvals, runner ActionRunner, planner *plan.Planner) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if cases == nil {
		panic(xerrors.New("case service is required"))
	}
	if approvals == nil {
		panic(xerrors.New("approvals are required"))
	}
	return &API{
		logger:    logger,
		cases:     cases,
		approvals: approvals,
		runner:    runner,
		planner:   planner,
	}
}

// SetDecisionMiddleware wraps the endpoints that settle approvals
// (resume, approve, execute) with the given middleware, typically
// bearer-token auth.
func (a *API) SetDecisionMiddleware(mw func(http.Handler) http.Handler) {
	a.decisionMW = mw
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/cases", a.handleCreateCase)
		r.Get("/cases/{id}", a.handleGetCase)

		r.Post("/actions/plan", a.handlePlanActions)
		r.Get("/actions/pending", a.handleListPending)

		r.Group(func(g chi.Router) {
			if a.decisionMW != nil {
				g.Use(a.decisionMW)
			}
			g.Post("/cases/{id}/resume", a.handleResumeCase)
			g.Post("/cases/{id}/abort", a.handleAbortCase)
			g.Post("/actions/approve/{approval_id}", a.handleApprove)
			g.Post("/actions/execute/{approval_id}", a.handleExecute)
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
