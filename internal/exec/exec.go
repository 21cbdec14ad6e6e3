// Package exec carries approved action plans out against downstream
// systems. Capabilities are registered per (system, action type) pair;
// the runner walks a plan in order, records one result per action and
// never re-runs an action that already carries an execution stamp.
package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/action"
)

// Capability executes one kind of action against one downstream system.
type Capability interface {
	Execute(ctx context.Context, a *action.Action) (message string, err error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, a *action.Action) (string, error)

func (f CapabilityFunc) Execute(ctx context.Context, a *action.Action) (string, error) {
	return f(ctx, a)
}

type capKey struct {
	system string
	typ    action.Type
}

// Registry maps (system, action type) pairs to capabilities.
type Registry struct {
	caps map[capKey]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[capKey]Capability)}
}

// Register binds a capability to a system and action type.
func (r *Registry) Register(system string, typ action.Type, c Capability) {
	r.caps[capKey{system: system, typ: typ}] = c
}

// Get retrieves the capability for a system and action type.
func (r *Registry) Get(system string, typ action.Type) (Capability, bool) {
	c, ok := r.caps[capKey{system: system, typ: typ}]
	return c, ok
}

// Runner executes action plans through a Registry.
type Runner struct {
	registry *Registry
	logger   log.Logger
	now      func() time.Time
}

// NewRunner creates a runner over the given registry.
func NewRunner(registry *Registry, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes every action in list order and returns one result per
// action. An action with no registered capability is recorded as
// skipped; a capability error is recorded as failed. Neither stops the
// batch. Actions that already carry an execution stamp are returned
// from that stamp without touching the downstream system, so running
// the same approved plan twice has the effect of running it once.
func (r *Runner) Run(ctx context.Context, actions []action.Action, executedBy string) []action.Result {
	results := make([]action.Result, 0, len(actions))

	for i := range actions {
		a := &actions[i]

		if a.Executed() {
			if a.ExecutionResult != nil {
				results = append(results, *a.ExecutionResult)
			} else {
				results = append(results, action.Result{
					Type:   a.Type,
					Target: a.Target,
					Status: action.ResultSuccess,
				})
			}
			continue
		}

		res := r.runOne(ctx, a)

		now := r.now().UTC()
		a.ExecutedAt = &now
		a.ExecutedBy = executedBy
		a.ExecutionResult = &res

		results = append(results, res)
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, a *action.Action) action.Result {
	res := action.Result{Type: a.Type, Target: a.Target}

	c, ok := r.registry.Get(a.System, a.Type)
	if !ok {
		res.Status = action.ResultSkipped
		res.Message = fmt.Sprintf("no capability registered for %s on %s", a.Type, a.System)
		r.logger.Warn(ctx, "action skipped",
			"action_type", string(a.Type),
			"system", a.System,
			"target", a.Target,
		)
		return res
	}

	msg, err := c.Execute(ctx, a)
	if err != nil {
		res.Status = action.ResultFailed
		res.Message = err.Error()
		r.logger.Error(ctx, err, "action failed",
			"action_type", string(a.Type),
			"system", a.System,
			"target", a.Target,
		)
		return res
	}

	res.Status = action.ResultSuccess
	res.Message = msg
	r.logger.Info(ctx, "action executed",
		"action_type", string(a.Type),
		"system", a.System,
		"target", a.Target,
	)
	return res
}

// SetNow overrides the clock, for tests.
func (r *Runner) SetNow(now func() time.Time) {
	r.now = now
}
