// Package triage adapts the external decision oracle to a strict result
// schema. Decision policy belongs entirely to the oracle; this package
// only validates and normalizes its output.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/linnemanlabs/sentinel/internal/enrich"
)

// Oracle is the external decision engine. It receives the indicator plus
// the enrichment bundle and must return JSON matching the result schema.
type Oracle interface {
	Analyze(ctx context.Context, req *OracleRequest) (json.RawMessage, error)
}

// OracleRequest is the fixed input contract for the oracle.
type OracleRequest struct {
	Indicator  string            `json:"indicator"`
	Enrichment enrich.Bundle     `json:"enrichment"`
	Context    map[string]string `json:"context,omitempty"`
}

// FormatError means the oracle's output did not match the result schema
// after the bounded normalization chain. It fails the triage phase.
type FormatError struct {
	Detail string
}

func (e *FormatError) Error() string {
	return "triage result format error: " + e.Detail
}

// resultSchema is the strict shape the oracle must produce.
const resultSchema = `{
	"type": "object",
	"required": ["verdict", "confidence", "reason", "recommended_action", "requires_human_review"],
	"properties": {
		"verdict": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reason": {"type": "string"},
		"recommended_action": {"type": "string"},
		"requires_human_review": {"type": "boolean"}
	}
}`

// Adapter invokes the oracle and validates its raw output.
type Adapter struct {
	oracle Oracle
	schema *gojsonschema.Schema
	logger log.Logger
}

// NewAdapter creates a triage adapter around the given oracle.
func NewAdapter(oracle Oracle, logger log.Logger) (*Adapter, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(resultSchema))
	if err != nil {
		return nil, fmt.Errorf("compile triage schema: %w", err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Adapter{oracle: oracle, schema: schema, logger: logger}, nil
}

// Analyze calls the oracle and returns a validated triage result.
func (a *Adapter) Analyze(ctx context.Context, indicator string, bundle enrich.Bundle, alertCtx map[string]string) (*Result, error) {
	raw, err := a.oracle.Analyze(ctx, &OracleRequest{
		Indicator:  indicator,
		Enrichment: bundle,
		Context:    alertCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("oracle call: %w", err)
	}

	result, err := a.Normalize(raw, indicator)
	if err != nil {
		a.logger.Warn(ctx, "triage output rejected",
			"indicator", indicator,
			"error", err.Error(),
		)
		return nil, err
	}

	a.logger.Info(ctx, "triage verdict",
		"indicator", indicator,
		"verdict", string(result.Verdict),
		"confidence", result.Confidence,
		"requires_human_review", result.RequiresHumanReview,
	)
	return result, nil
}

// Normalize validates raw oracle output against the result schema,
// applying the bounded normalization chain in order:
//  1. the payload itself
//  2. payload nested under the fixed "triage" key
//  3. payload nested under an indicator-derived key
//  4. a single-entry map whose sole value matches the schema
//
// Anything else is a FormatError.
func (a *Adapter) Normalize(raw json.RawMessage, indicator string) (*Result, error) {
	raw = stripFences(raw)

	if r, ok := a.tryDecode(raw); ok {
		return r, nil
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &FormatError{Detail: fmt.Sprintf("not a JSON object: %v", err)}
	}

	if nested, ok := m["triage"]; ok {
		if r, ok := a.tryDecode(nested); ok {
			return r, nil
		}
	}

	if nested, ok := m["indicator_"+indicator]; ok {
		if r, ok := a.tryDecode(nested); ok {
			return r, nil
		}
	}

	if len(m) == 1 {
		for _, nested := range m {
			if r, ok := a.tryDecode(nested); ok {
				return r, nil
			}
		}
	}

	return nil, &FormatError{Detail: "no normalization produced a valid triage result"}
}

// tryDecode returns a Result if raw matches the schema exactly.
func (a *Adapter) tryDecode(raw json.RawMessage) (*Result, bool) {
	validation, err := a.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil || !validation.Valid() {
		return nil, false
	}

	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false
	}
	return &r, true
}

// stripFences removes a markdown code fence some oracles wrap JSON in.
func stripFences(raw json.RawMessage) json.RawMessage {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		return json.RawMessage(strings.TrimSpace(s))
	}
	return raw
}
