package caseapi

import (
	"errors"
	"net/http"

	"github.com/linnemanlabs/sentinel/internal/approval"
	"github.com/linnemanlabs/sentinel/internal/plan"
	"github.com/linnemanlabs/sentinel/internal/workflow"
)

// errorBody is the wire shape of every API error. kind is stable and
// machine-matchable; message is for humans.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

// writeDomainError maps domain errors onto the HTTP surface. Anything
// unmapped is an internal error and reported without detail.
func writeDomainError(w http.ResponseWriter, err error) {
	var planErr *plan.Error

	switch {
	case errors.Is(err, workflow.ErrCaseNotFound), errors.Is(err, approval.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, approval.ErrExpired):
		// expired approvals read as absent; the kind keeps the reason visible
		writeError(w, http.StatusNotFound, "approval_expired", err.Error())
	case errors.Is(err, approval.ErrNotApproved):
		writeError(w, http.StatusBadRequest, "not_approved", err.Error())
	case errors.Is(err, approval.ErrNotPending):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, workflow.ErrNotSuspended):
		writeError(w, http.StatusConflict, "not_suspended", err.Error())
	case errors.As(err, &planErr):
		writeError(w, http.StatusUnprocessableEntity, "planning_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
