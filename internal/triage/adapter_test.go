package triage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentinel/internal/enrich"
)

// mockOracle returns a fixed raw payload or error.
type mockOracle struct {
	raw json.RawMessage
	err error

	gotReq *OracleRequest
}

func (m *mockOracle) Analyze(_ context.Context, req *OracleRequest) (json.RawMessage, error) {
	m.gotReq = req
	return m.raw, m.err
}

const validResult = `{
	"verdict": "benign",
	"confidence": 0.95,
	"reason": "known Google resolver, zero detections",
	"recommended_action": "close_alert",
	"requires_human_review": false
}`

func newTestAdapter(t *testing.T, oracle Oracle) *Adapter {
	t.Helper()
	a, err := NewAdapter(oracle, log.Nop())
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func TestAnalyze_DirectObject(t *testing.T) {
	t.Parallel()

	oracle := &mockOracle{raw: json.RawMessage(validResult)}
	a := newTestAdapter(t, oracle)

	bundle := enrich.Bundle{"whois": {OK: true, Payload: json.RawMessage(`{"org":"Google"}`)}}
	r, err := a.Analyze(context.Background(), "8.8.8.8", bundle, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if r.Verdict != VerdictBenign {
		t.Errorf("verdict = %q, want benign", r.Verdict)
	}
	if r.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", r.Confidence)
	}
	if oracle.gotReq.Indicator != "8.8.8.8" {
		t.Errorf("oracle indicator = %q", oracle.gotReq.Indicator)
	}
	if len(oracle.gotReq.Enrichment) != 1 {
		t.Error("enrichment bundle not forwarded to oracle")
	}
}

func TestNormalize_NestedUnderTriageKey(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, nil)
	raw := json.RawMessage(`{"triage": ` + validResult + `}`)

	r, err := a.Normalize(raw, "8.8.8.8")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Verdict != VerdictBenign {
		t.Errorf("verdict = %q", r.Verdict)
	}
}

func TestNormalize_IndicatorDerivedKey(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, nil)
	raw := json.RawMessage(`{"indicator_45.142.212.61": ` + validResult + `}`)

	r, err := a.Normalize(raw, "45.142.212.61")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Verdict != VerdictBenign {
		t.Errorf("verdict = %q", r.Verdict)
	}
}

func TestNormalize_SingleEntryFallback(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, nil)
	// legacy shape: verdict-as-key wrapping the payload
	raw := json.RawMessage(`{"benign": ` + validResult + `}`)

	r, err := a.Normalize(raw, "8.8.8.8")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Verdict != VerdictBenign {
		t.Errorf("verdict = %q", r.Verdict)
	}
}

func TestNormalize_CodeFencedJSON(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, nil)
	raw := json.RawMessage("```json\n" + validResult + "\n```")

	if _, err := a.Normalize(raw, "8.8.8.8"); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
}

func TestNormalize_FormatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `verdict: benign`},
		{"missing fields", `{"verdict":"benign"}`},
		{"confidence out of range", `{"verdict":"benign","confidence":1.5,"reason":"x","recommended_action":"close_alert","requires_human_review":false}`},
		{"confidence wrong type", `{"verdict":"benign","confidence":"high","reason":"x","recommended_action":"close_alert","requires_human_review":false}`},
		{"multi-entry map", `{"a":` + validResult + `,"b":` + validResult + `}`},
		{"single entry not matching", `{"only":{"foo":"bar"}}`},
	}

	a := newTestAdapter(t, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := a.Normalize(json.RawMessage(tt.raw), "8.8.8.8")
			var fe *FormatError
			if !errors.As(err, &fe) {
				t.Fatalf("err = %v, want FormatError", err)
			}
		})
	}
}

func TestAnalyze_OracleError(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, &mockOracle{err: errors.New("oracle down")})
	_, err := a.Analyze(context.Background(), "8.8.8.8", nil, nil)
	if err == nil {
		t.Fatal("expected error when oracle fails")
	}
	var fe *FormatError
	if errors.As(err, &fe) {
		t.Error("oracle transport error must not be a FormatError")
	}
}

func TestVerdict_Known(t *testing.T) {
	t.Parallel()

	for _, v := range []Verdict{VerdictBenign, VerdictSuspicious, VerdictMalicious, VerdictNeedsInvestigation} {
		if !v.Known() {
			t.Errorf("%q should be known", v)
		}
	}
	if Verdict("critical").Known() {
		t.Error("unknown verdict reported as known")
	}
}
