package caseapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/approval"
	"github.com/linnemanlabs/sentinel/internal/plan"
	"github.com/linnemanlabs/sentinel/internal/triage"
)

type planRequest struct {
	Triage    *triage.Result `json:"triage"`
	Indicator string         `json:"indicator"`
	AlertID   string         `json:"alert_id"`
	Host      string         `json:"host,omitempty"`
}

type planResponse struct {
	ApprovalID       string          `json:"approval_id,omitempty"`
	Status           approval.Status `json:"status,omitempty"`
	Actions          []action.Action `json:"actions"`
	RequiresApproval bool            `json:"requires_approval"`
}

// handlePlanActions exposes planning standalone: the same policy table
// the workflow uses. When the plan needs sign-off a pending approval is
// opened so it can be settled through the approve and execute endpoints.
func (a *API) handlePlanActions(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid plan payload")
		return
	}
	if req.Triage == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "triage result is required")
		return
	}

	actions, err := a.planner.Plan(req.Triage, plan.Context{
		Indicator: req.Indicator,
		AlertID:   req.AlertID,
		Host:      req.Host,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := planResponse{
		Actions:          actions,
		RequiresApproval: plan.RequiresApproval(actions),
	}
	if resp.RequiresApproval {
		ap, err := a.approvals.Create(r.Context(), "", actions, approval.Meta{
			AlertID:          req.AlertID,
			Indicator:        req.Indicator,
			TriageVerdict:    string(req.Triage.Verdict),
			TriageConfidence: req.Triage.Confidence,
		})
		if err != nil {
			a.logger.Error(r.Context(), err, "failed to open plan approval", "alert_id", req.AlertID)
			writeDomainError(w, err)
			return
		}
		resp.ApprovalID = ap.ApprovalID
		resp.Status = ap.Status
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListPending(w http.ResponseWriter, r *http.Request) {
	pending, err := a.approvals.ListPending(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list pending approvals")
		writeDomainError(w, err)
		return
	}
	if pending == nil {
		pending = []*approval.Approval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// handleApprove settles an approval by id. An approval owned by a case
// resumes that case, so an approved decision executes immediately; an
// approval opened through the plan endpoint has no case and is decided
// directly, leaving execution to the execute endpoint.
func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approval_id")

	var d approval.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid decision payload")
		return
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
		return
	}

	ap, err := a.approvals.Get(r.Context(), approvalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if ap.CaseID == "" {
		decided, err := a.approvals.Decide(r.Context(), approvalID, &d)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, decided)
		return
	}

	out, err := a.cases.Resume(r.Context(), ap.CaseID, &d)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type executeResponse struct {
	ApprovalID string          `json:"approval_id"`
	Results    []action.Result `json:"results"`
}

// handleExecute re-runs an already approved batch. Execution stamps
// make this idempotent: a second call returns the stored results
// without touching downstream systems.
func (a *API) handleExecute(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approval_id")

	ap, err := a.approvals.Get(r.Context(), approvalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if ap.Status == approval.StatusExpired {
		writeDomainError(w, approval.ErrExpired)
		return
	}
	if ap.Status != approval.StatusApproved {
		writeDomainError(w, approval.ErrNotApproved)
		return
	}

	results := a.runner.Run(r.Context(), ap.Actions, ap.ApprovedBy)
	if err := a.approvals.Executed(r.Context(), ap); err != nil {
		a.logger.Error(r.Context(), err, "failed to record execution", "approval_id", approvalID)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, executeResponse{
		ApprovalID: ap.ApprovalID,
		Results:    results,
	})
}
