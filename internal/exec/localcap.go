package exec

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/sentinel/internal/action"
)

// Notifier posts a message to a chat channel.
type Notifier interface {
	Send(ctx context.Context, channel, text string) error
}

// RegisterChat binds notify actions to a chat notifier.
func RegisterChat(r *Registry, n Notifier) {
	r.Register("chat", action.TypeNotify, CapabilityFunc(func(ctx context.Context, a *action.Action) (string, error) {
		if err := n.Send(ctx, a.Target, a.Reason); err != nil {
			return "", fmt.Errorf("notify %s: %w", a.Target, err)
		}
		return fmt.Sprintf("notified %s", a.Target), nil
	}))
}

// RegisterLocal binds the actions the service resolves itself:
// close_alert and monitor need no downstream system, they only change
// local disposition.
func RegisterLocal(r *Registry) {
	r.Register("sentinel", action.TypeCloseAlert, CapabilityFunc(func(_ context.Context, a *action.Action) (string, error) {
		return fmt.Sprintf("alert %s closed", a.Target), nil
	}))
	r.Register("sentinel", action.TypeMonitor, CapabilityFunc(func(_ context.Context, a *action.Action) (string, error) {
		return fmt.Sprintf("monitoring %s for 24h", a.Target), nil
	}))
}
