package claude

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/linnemanlabs/sentinel/internal/enrich"
	"github.com/linnemanlabs/sentinel/internal/triage"
)

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	req := &triage.OracleRequest{
		Indicator: "45.142.212.61",
		Enrichment: enrich.Bundle{
			"whois":      {OK: true, Payload: json.RawMessage(`{"org":"bulletproof hosting"}`)},
			"virustotal": {Error: "timed out"},
		},
		Context: map[string]string{"alert_id": "a-1", "severity": "high"},
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}

	for _, want := range []string{"45.142.212.61", "bulletproof hosting", "timed out", "alert_id"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_NoContext(t *testing.T) {
	t.Parallel()

	prompt, err := buildPrompt(&triage.OracleRequest{Indicator: "8.8.8.8"})
	if err != nil {
		t.Fatalf("buildPrompt: %v", err)
	}
	if strings.Contains(prompt, "Alert context") {
		t.Error("prompt should omit the context section when context is empty")
	}
}

func TestSystemPrompt_NamesEveryVerdict(t *testing.T) {
	t.Parallel()

	for _, v := range []triage.Verdict{
		triage.VerdictBenign,
		triage.VerdictSuspicious,
		triage.VerdictMalicious,
		triage.VerdictNeedsInvestigation,
	} {
		if !strings.Contains(systemPrompt, string(v)) {
			t.Errorf("system prompt missing verdict %q", v)
		}
	}
}
