// Package claude implements the triage decision oracle on the Claude API.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/sentinel/internal/triage"
)

const responseTokens = 1024

// Client calls Claude with the triage contract and returns the raw JSON
// text for the adapter to validate. It never parses or edits verdicts.
type Client struct {
	client anthropic.Client
	model  string
}

// New creates a Claude oracle client with the given API key and model.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Analyze implements triage.Oracle.
func (c *Client) Analyze(ctx context.Context, req *triage.OracleRequest) (json.RawMessage, error) {
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: responseTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claude call: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("claude returned no text content")
	}

	return json.RawMessage(sb.String()), nil
}

const systemPrompt = `You are a SOC triage analyst. You receive one indicator and the
intelligence gathered about it (ownership, geolocation, reputation; failed lookups are
marked with their error).

Classify the indicator and respond with ONLY a JSON object, no prose, in this exact shape:
{
  "verdict": "benign" | "suspicious" | "malicious" | "needs_investigation",
  "confidence": <number between 0 and 1>,
  "reason": "<short, evidence-based explanation>",
  "recommended_action": "close_alert" | "monitor" | "escalate_to_tier2" | "investigate_further",
  "requires_human_review": <boolean>
}`

func buildPrompt(req *triage.OracleRequest) (string, error) {
	enrichment, err := json.MarshalIndent(req.Enrichment, "", "  ")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Indicator: %s\n\n", req.Indicator)
	if len(req.Context) > 0 {
		alertCtx, err := json.MarshalIndent(req.Context, "", "  ")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "Alert context:\n%s\n\n", alertCtx)
	}
	fmt.Fprintf(&sb, "Enrichment results:\n%s\n", enrichment)
	return sb.String(), nil
}
