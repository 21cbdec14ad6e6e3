// Package slack sends case notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/approval"
	"github.com/linnemanlabs/sentinel/internal/workflow"
)

const (
	maxReasonLen = 3000
	httpTimeout  = 10 * time.Second
)

// Notifier posts case and approval messages to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, all sends
// are no-ops.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Send posts a plain message. The channel is informational only:
// incoming webhooks are bound to a channel at creation, so it is
// rendered into the message rather than used for routing.
func (n *Notifier) Send(ctx context.Context, channel, text string) error {
	if channel != "" {
		text = fmt.Sprintf("%s %s", channel, text)
	}
	return n.post(ctx, map[string]any{"text": text})
}

// SendAwaitingApproval posts the pending-approval summary an analyst
// needs to decide: verdict, confidence and the exact action list.
func (n *Notifier) SendAwaitingApproval(ctx context.Context, c *workflow.Case, ap *approval.Approval) error {
	return n.post(ctx, buildApprovalMessage(c, ap))
}

// SendCaseClosed posts a terminal-case summary.
func (n *Notifier) SendCaseClosed(ctx context.Context, c *workflow.Case) error {
	return n.post(ctx, buildClosedMessage(c))
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildApprovalMessage(c *workflow.Case, ap *approval.Approval) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("%s Approval needed: %s", verdictEmoji(ap.TriageVerdict), c.Indicator),
				},
			},
			{"type": "divider"},
			{
				"type": "section",
				"fields": []map[string]any{
					{"type": "mrkdwn", "text": fmt.Sprintf("*Case:* %s", c.ID)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Approval:* %s", ap.ApprovalID)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Verdict:* %s", ap.TriageVerdict)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %.2f", ap.TriageConfidence)},
					{"type": "mrkdwn", "text": fmt.Sprintf("*Expires:* %s", ap.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"))},
				},
			},
			{"type": "divider"},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*Pending actions*\n%s", actionList(ap.Actions)),
				},
			},
		},
	}
}

func buildClosedMessage(c *workflow.Case) map[string]any {
	reason := ""
	if c.Triage != nil {
		reason = truncate(c.Triage.Reason, maxReasonLen)
	}
	if reason == "" {
		reason = "_No triage summary available._"
	}

	return map[string]any{
		"blocks": []map[string]any{
			{
				"type": "header",
				"text": map[string]any{
					"type": "plain_text",
					"text": fmt.Sprintf("Case %s: %s", c.Status, c.Indicator),
				},
			},
			{"type": "divider"},
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": reason,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": fmt.Sprintf("sentinel • case %s • %s", c.ID, c.UpdatedAt.UTC().Format("2006-01-02 15:04 UTC")),
					},
				},
			},
		},
	}
}

func actionList(actions []action.Action) string {
	var b strings.Builder
	for _, a := range actions {
		marker := ""
		if a.RequiresApproval {
			marker = " (approval)"
		}
		fmt.Fprintf(&b, "• `%s` → %s%s\n", a.Type, a.Target, marker)
	}
	return b.String()
}

func verdictEmoji(verdict string) string {
	switch verdict {
	case "malicious":
		return "\U0001f534" // red circle
	case "suspicious":
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
