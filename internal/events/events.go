// Package events publishes case lifecycle events to NATS so downstream
// consumers (dashboards, SIEM forwarders, paging) can follow cases
// without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/sentinel/internal/workflow"
)

// SubjectPrefix namespaces all case event subjects. The event name is
// appended as-is, so "case.completed" publishes on
// "sentinel.case.completed".
const SubjectPrefix = "sentinel."

// Envelope is the wire form of one case event. The full case is
// embedded so consumers need no follow-up read.
type Envelope struct {
	Event     string         `json:"event"`
	CaseID    string         `json:"case_id"`
	Indicator string         `json:"indicator,omitempty"`
	Status    string         `json:"status"`
	Phase     string         `json:"phase"`
	Case      *workflow.Case `json:"case"`
}

// Publisher emits case events on a NATS connection. Publishing is
// fire-and-forget: a failed publish is logged and dropped, never
// surfaced into the workflow.
type Publisher struct {
	nc     *nats.Conn
	logger log.Logger
}

// New creates a publisher over an established NATS connection.
func New(nc *nats.Conn, logger log.Logger) *Publisher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// Connect dials NATS and returns a ready publisher.
func Connect(url string, logger log.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("sentinel"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return New(nc, logger), nil
}

// Publish implements workflow.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event string, c *workflow.Case) {
	env := Envelope{
		Event:     event,
		CaseID:    c.ID,
		Indicator: c.Indicator,
		Status:    string(c.Status),
		Phase:     string(c.Phase),
		Case:      c,
	}

	data, err := json.Marshal(env)
	if err != nil {
		p.logger.Error(ctx, err, "marshal event", "event", event, "case_id", c.ID)
		return
	}

	if err := p.nc.Publish(SubjectPrefix+event, data); err != nil {
		p.logger.Warn(ctx, "publish event failed",
			"event", event,
			"case_id", c.ID,
			"error", err.Error(),
		)
	}
}

// Close drains the connection.
func (p *Publisher) Close() {
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
	}
}
