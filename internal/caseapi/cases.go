package caseapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/sentinel/internal/alert"
	"github.com/linnemanlabs/sentinel/internal/approval"
)

func (a *API) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var al alert.Alert
	if err := json.NewDecoder(r.Body).Decode(&al); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid alert payload")
		return
	}
	if len(al.Indicators) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "alert carries no indicators")
		return
	}
	if al.ReceivedAt.IsZero() {
		al.ReceivedAt = time.Now().UTC()
	}

	out, err := a.cases.Start(r.Context(), &al)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to start case", "alert_id", al.AlertID)
		writeDomainError(w, err)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("sentinel.case.id", out.Case.ID),
		attribute.String("sentinel.case.status", string(out.Case.Status)),
	)

	status := http.StatusCreated
	if out.AwaitingApproval {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sentinel.case.id", id))

	c, err := a.cases.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleResumeCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var d approval.Decision
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid decision payload")
		return
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_decision", err.Error())
		return
	}

	out, err := a.cases.Resume(r.Context(), id, &d)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type abortRequest struct {
	AbortedBy string `json:"aborted_by"`
	Reason    string `json:"reason"`
}

func (a *API) handleAbortCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req abortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid abort payload")
		return
	}
	if req.AbortedBy == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "aborted_by is required")
		return
	}

	c, err := a.cases.Abort(r.Context(), id, req.AbortedBy, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
