package workflow

import "context"

// CheckpointStore persists case state between phases. Implementations
// must provide point lookups, atomic overwrite, and read-your-writes
// for a resumed case; durability is what makes the approval suspension
// survive process restarts.
type CheckpointStore interface {
	Save(ctx context.Context, c *Case) error
	Get(ctx context.Context, caseID string) (*Case, bool, error)
}
