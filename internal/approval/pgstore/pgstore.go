// Package pgstore provides a PostgreSQL implementation of approval.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/approval"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/approval/pgstore")

//go:embed schema.sql
var schema string

// DefaultRetention is how long records stay readable past their decision
// deadline, so expired approvals remain queryable for audit.
const DefaultRetention = time.Hour

// Store persists approvals in PostgreSQL with TTL-bound retention.
type Store struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, retention: DefaultRetention}, nil
}

const approvalColumns = `approval_id, case_id, status, approved_by, decision_reason, notes,
	alert_id, indicator, triage_verdict, triage_confidence, actions,
	created_at, decided_at, expires_at, ttl_seconds`

// Save implements approval.Store.
func (s *Store) Save(ctx context.Context, a *approval.Approval) error {
	ctx, span := tracer.Start(ctx, "pgstore.SaveApproval", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	retainUntil := a.ExpiresAt.Add(s.retention)
	_, err = s.pool.Exec(ctx, `INSERT INTO approvals (`+approvalColumns+`, retain_until)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ApprovalID, a.CaseID, string(a.Status), a.ApprovedBy, a.DecisionReason, a.Notes,
		a.AlertID, a.Indicator, a.TriageVerdict, a.TriageConfidence, actions,
		a.CreatedAt, a.DecidedAt, a.ExpiresAt, a.TTLSeconds, retainUntil,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Get implements approval.Store. Records past their retention window
// read as absent.
func (s *Store) Get(ctx context.Context, approvalID string) (*approval.Approval, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetApproval", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+approvalColumns+`
		FROM approvals WHERE approval_id = $1 AND retain_until > now()`, approvalID)

	a, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return a, true, nil
}

// Update implements approval.Store. The WHERE clause enforces the
// pending-only transition rule atomically.
func (s *Store) Update(ctx context.Context, a *approval.Approval) error {
	ctx, span := tracer.Start(ctx, "pgstore.UpdateApproval", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE approvals
		SET status = $2, approved_by = $3, decision_reason = $4, notes = $5,
		    actions = $6, decided_at = $7
		WHERE approval_id = $1 AND status = 'pending' AND retain_until > now()`,
		a.ApprovalID, string(a.Status), a.ApprovedBy, a.DecisionReason, a.Notes,
		actions, a.DecidedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("update approval: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, ok, err := s.Get(ctx, a.ApprovalID); err != nil {
			return err
		} else if !ok {
			return approval.ErrNotFound
		}
		return approval.ErrNotPending
	}
	return nil
}

// RecordExecution implements approval.Store. Accepted only for records
// that reached the approved state.
func (s *Store) RecordExecution(ctx context.Context, a *approval.Approval) error {
	ctx, span := tracer.Start(ctx, "pgstore.RecordExecution", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()

	actions, err := json.Marshal(a.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `UPDATE approvals SET actions = $2
		WHERE approval_id = $1 AND status = 'approved' AND retain_until > now()`,
		a.ApprovalID, actions,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("record execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, ok, err := s.Get(ctx, a.ApprovalID); err != nil {
			return err
		} else if !ok {
			return approval.ErrNotFound
		}
		return approval.ErrNotApproved
	}
	return nil
}

// Delete implements approval.Store.
func (s *Store) Delete(ctx context.Context, approvalID string) error {
	ctx, span := tracer.Start(ctx, "pgstore.DeleteApproval", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM approvals WHERE approval_id = $1`, approvalID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete approval: %w", err)
	}
	return nil
}

// ListPending implements approval.Store.
func (s *Store) ListPending(ctx context.Context) ([]*approval.Approval, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListPendingApprovals", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+approvalColumns+`
		FROM approvals WHERE status = 'pending' AND retain_until > now()
		ORDER BY created_at`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []*approval.Approval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanApproval(row pgx.Row) (*approval.Approval, error) {
	var (
		a       approval.Approval
		status  string
		actions []byte
	)
	err := row.Scan(
		&a.ApprovalID, &a.CaseID, &status, &a.ApprovedBy, &a.DecisionReason, &a.Notes,
		&a.AlertID, &a.Indicator, &a.TriageVerdict, &a.TriageConfidence, &actions,
		&a.CreatedAt, &a.DecidedAt, &a.ExpiresAt, &a.TTLSeconds,
	)
	if err != nil {
		return nil, err
	}
	a.Status = approval.Status(status)

	if len(actions) > 0 {
		var acts []action.Action
		if err := json.Unmarshal(actions, &acts); err != nil {
			return nil, fmt.Errorf("unmarshal actions: %w", err)
		}
		a.Actions = acts
	}
	return &a, nil
}
