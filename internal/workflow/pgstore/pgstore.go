// Package pgstore provides a PostgreSQL implementation of
// workflow.CheckpointStore.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/sentinel/internal/workflow"
)

var tracer = otel.Tracer("github.com/linnemanlabs/sentinel/internal/workflow/pgstore")

//go:embed schema.sql
var schema string

// Store checkpoints cases in PostgreSQL. The full case is serialized
// into a JSONB column; a handful of fields are mirrored into plain
// columns for querying.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store over the given pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save upserts the case checkpoint. The write is atomic; a reader never
// observes a half-written case.
func (s *Store) Save(ctx context.Context, c *workflow.Case) error {
	ctx, span := tracer.Start(ctx, "pgstore.SaveCase", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	state, err := json.Marshal(c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("marshal case: %w", err)
	}

	query := `INSERT INTO cases (
		case_id, indicator, phase, status, error, state, created_at, updated_at, completed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	ON CONFLICT (case_id) DO UPDATE SET
		indicator    = EXCLUDED.indicator,
		phase        = EXCLUDED.phase,
		status       = EXCLUDED.status,
		error        = EXCLUDED.error,
		state        = EXCLUDED.state,
		updated_at   = EXCLUDED.updated_at,
		completed_at = EXCLUDED.completed_at`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.Indicator, string(c.Phase), string(c.Status), c.Error,
		state, c.CreatedAt, c.UpdatedAt, c.CompletedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert case: %w", err)
	}
	return nil
}

// Get retrieves a case checkpoint by id.
func (s *Store) Get(ctx context.Context, caseID string) (*workflow.Case, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetCase", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var state []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM cases WHERE case_id = $1`, caseID,
	).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("query case: %w", err)
	}

	var c workflow.Case
	if err := json.Unmarshal(state, &c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("unmarshal case: %w", err)
	}
	return &c, true, nil
}

// ListAwaitingApproval returns case ids currently suspended at the
// approval boundary, oldest first.
func (s *Store) ListAwaitingApproval(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "pgstore.ListAwaitingApproval", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT case_id FROM cases WHERE status = 'awaiting_approval' ORDER BY created_at`,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query cases: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return ids, nil
}
