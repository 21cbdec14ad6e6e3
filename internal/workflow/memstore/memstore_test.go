package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/workflow"
)

func sampleCase(id string) *workflow.Case {
	now := time.Now().UTC().Truncate(time.Second)
	return &workflow.Case{
		ID:        id,
		Indicator: "203.0.113.7",
		Phase:     workflow.PhaseEnrich,
		Status:    workflow.StatusRunning,
		AuditLog: []workflow.AuditEntry{
			{Timestamp: now, Phase: workflow.PhaseIngest, Event: "ingested", Actor: "system", Status: workflow.AuditSuccess},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Save(ctx, sampleCase("c-1")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Get(ctx, "c-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ID != "c-1" || got.Phase != workflow.PhaseEnrich || len(got.AuditLog) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := New()

	_, ok, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("missing case must return ok=false")
	}
}

func TestSaveReplacesAndIsolates(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	c := sampleCase("c-2")
	if err := s.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// mutating the saved pointer must not leak into the checkpoint
	c.Status = workflow.StatusFailed

	got, _, err := s.Get(ctx, "c-2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != workflow.StatusRunning {
		t.Fatalf("status = %s, checkpoint must be a snapshot", got.Status)
	}

	c.Status = workflow.StatusCompleted
	if err := s.Save(ctx, c); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, _ = s.Get(ctx, "c-2")
	if got.Status != workflow.StatusCompleted {
		t.Fatalf("status = %s, want completed after re-save", got.Status)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}
