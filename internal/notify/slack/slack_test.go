package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
	"github.com/linnemanlabs/sentinel/internal/approval"
	"github.com/linnemanlabs/sentinel/internal/triage"
	"github.com/linnemanlabs/sentinel/internal/workflow"
)

func captureServer(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestSendAwaitingApproval_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)
	defer srv.Close()

	c := &workflow.Case{
		ID:        "01JN123",
		Indicator: "203.0.113.7",
		Status:    workflow.StatusAwaitingApproval,
		Phase:     workflow.PhaseApprove,
	}
	ap := &approval.Approval{
		ApprovalID:       "ap-1",
		TriageVerdict:    "malicious",
		TriageConfidence: 0.95,
		ExpiresAt:        time.Date(2026, 2, 26, 15, 23, 0, 0, time.UTC),
		Actions: []action.Action{
			{Type: action.TypeBlockIP, Target: "203.0.113.7", RequiresApproval: true},
			{Type: action.TypeCreateTicket, Target: "incident-response-team"},
		},
	}

	if err := New(srv.URL).SendAwaitingApproval(context.Background(), c, ap); err != nil {
		t.Fatalf("SendAwaitingApproval: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, divider, actions = 5 blocks
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "203.0.113.7") {
		t.Errorf("header text = %q, want to contain the indicator", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should contain red circle for a malicious verdict")
	}

	actionsText := blocks[4].(map[string]any)["text"].(map[string]any)["text"].(string)
	if !strings.Contains(actionsText, "block_ip") || !strings.Contains(actionsText, "(approval)") {
		t.Errorf("actions text = %q", actionsText)
	}
}

func TestSendCaseClosed(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)
	defer srv.Close()

	c := &workflow.Case{
		ID:        "01JN124",
		Indicator: "bad.example.com",
		Status:    workflow.StatusCompleted,
		Triage:    &triage.Result{Verdict: triage.VerdictBenign, Confidence: 0.9, Reason: "known CDN endpoint"},
		UpdatedAt: time.Date(2026, 2, 26, 14, 23, 0, 0, time.UTC),
	}

	if err := New(srv.URL).SendCaseClosed(context.Background(), c); err != nil {
		t.Fatalf("SendCaseClosed: %v", err)
	}

	raw, _ := json.Marshal(got)
	if !strings.Contains(string(raw), "known CDN endpoint") {
		t.Errorf("payload should contain the triage reason: %s", raw)
	}
	if !strings.Contains(string(raw), "01JN124") {
		t.Errorf("payload should contain the case id: %s", raw)
	}
}

func TestSend_PlainText(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)
	defer srv.Close()

	if err := New(srv.URL).Send(context.Background(), "#security-alerts", "malicious activity: 203.0.113.7"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	text, _ := got["text"].(string)
	if !strings.Contains(text, "#security-alerts") || !strings.Contains(text, "203.0.113.7") {
		t.Errorf("text = %q", text)
	}
}

func TestSend_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("")
	if err := n.Send(context.Background(), "#x", "hello"); err != nil {
		t.Fatalf("Send with empty URL should be no-op, got: %v", err)
	}
	if err := n.SendCaseClosed(context.Background(), &workflow.Case{}); err != nil {
		t.Fatalf("SendCaseClosed with empty URL should be no-op, got: %v", err)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := New(srv.URL).Send(context.Background(), "", "hi")
	if err == nil {
		t.Fatal("expected error on non-OK status")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want status code in message", err)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", maxReasonLen+100)
	got := truncate(long, maxReasonLen)
	if len(got) != maxReasonLen {
		t.Fatalf("len = %d, want %d", len(got), maxReasonLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatal("truncated text must end with ellipsis")
	}
	if truncate("short", maxReasonLen) != "short" {
		t.Fatal("short text must pass through")
	}
}
