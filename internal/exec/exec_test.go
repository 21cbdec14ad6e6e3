package exec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
)

func plan() []action.Action {
	return []action.Action{
		{Type: action.TypeBlockIP, Target: "203.0.113.7", System: "firewall", Priority: action.PriorityImmediate},
		{Type: action.TypeIsolateHost, Target: "ws-042", System: "edr", Priority: action.PriorityImmediate},
		{Type: action.TypeCreateTicket, Target: "incident-response-team", System: "ticketing", Priority: action.PriorityImmediate},
	}
}

func TestRunExecutesInOrder(t *testing.T) {
	t.Parallel()

	var order []action.Type
	reg := NewRegistry()
	for _, sys := range []struct {
		system string
		typ    action.Type
	}{
		{"firewall", action.TypeBlockIP},
		{"edr", action.TypeIsolateHost},
		{"ticketing", action.TypeCreateTicket},
	} {
		typ := sys.typ
		reg.Register(sys.system, sys.typ, CapabilityFunc(func(_ context.Context, a *action.Action) (string, error) {
			order = append(order, typ)
			return "ok", nil
		}))
	}

	actions := plan()
	results := NewRunner(reg, nil).Run(context.Background(), actions, "analyst-1")

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	want := []action.Type{action.TypeBlockIP, action.TypeIsolateHost, action.TypeCreateTicket}
	for i, typ := range want {
		if order[i] != typ {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
		if results[i].Status != action.ResultSuccess {
			t.Errorf("result[%d] = %s, want success", i, results[i].Status)
		}
	}
	for i := range actions {
		if !actions[i].Executed() {
			t.Errorf("action %d missing execution stamp", i)
		}
		if actions[i].ExecutedBy != "analyst-1" {
			t.Errorf("action %d executed_by = %q", i, actions[i].ExecutedBy)
		}
	}
}

func TestRunFailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register("firewall", action.TypeBlockIP, CapabilityFunc(func(context.Context, *action.Action) (string, error) {
		return "", errors.New("firewall API timeout")
	}))
	reg.Register("edr", action.TypeIsolateHost, CapabilityFunc(func(context.Context, *action.Action) (string, error) {
		return "isolated", nil
	}))
	reg.Register("ticketing", action.TypeCreateTicket, CapabilityFunc(func(context.Context, *action.Action) (string, error) {
		return "ticket opened", nil
	}))

	results := NewRunner(reg, nil).Run(context.Background(), plan(), "analyst-1")

	if results[0].Status != action.ResultFailed || results[0].Message != "firewall API timeout" {
		t.Fatalf("result[0] = %+v, want failed", results[0])
	}
	if results[1].Status != action.ResultSuccess || results[2].Status != action.ResultSuccess {
		t.Fatalf("later actions must still run: %+v", results[1:])
	}
}

func TestRunSkipsUnregistered(t *testing.T) {
	t.Parallel()

	results := NewRunner(NewRegistry(), nil).Run(context.Background(), plan(), "analyst-1")

	for i, r := range results {
		if r.Status != action.ResultSkipped {
			t.Errorf("result[%d] = %s, want skipped", i, r.Status)
		}
		if r.Message == "" {
			t.Errorf("result[%d] skip must carry a message", i)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	reg := NewRegistry()
	reg.Register("firewall", action.TypeBlockIP, CapabilityFunc(func(context.Context, *action.Action) (string, error) {
		calls.Add(1)
		return "blocked", nil
	}))

	runner := NewRunner(reg, nil)
	actions := []action.Action{
		{Type: action.TypeBlockIP, Target: "203.0.113.7", System: "firewall"},
	}

	first := runner.Run(context.Background(), actions, "analyst-1")
	second := runner.Run(context.Background(), actions, "analyst-2")

	if calls.Load() != 1 {
		t.Fatalf("capability calls = %d, want 1", calls.Load())
	}
	if first[0] != second[0] {
		t.Fatalf("replay must return the stored result: %+v vs %+v", first[0], second[0])
	}
	if actions[0].ExecutedBy != "analyst-1" {
		t.Fatalf("executed_by = %q, replay must not overwrite the stamp", actions[0].ExecutedBy)
	}
}

func TestRunnerStampsClock(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	RegisterLocal(reg)

	runner := NewRunner(reg, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	runner.SetNow(func() time.Time { return fixed })

	actions := []action.Action{{Type: action.TypeCloseAlert, Target: "a-1", System: "sentinel"}}
	results := runner.Run(context.Background(), actions, "system")

	if results[0].Status != action.ResultSuccess {
		t.Fatalf("result = %+v", results[0])
	}
	if actions[0].ExecutedAt == nil || !actions[0].ExecutedAt.Equal(fixed) {
		t.Fatalf("executed_at = %v, want %v", actions[0].ExecutedAt, fixed)
	}
}

func TestHTTPCapability(t *testing.T) {
	t.Parallel()

	var got httpCapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewHTTPCapability("firewall", srv.URL)
	msg, err := c.Execute(context.Background(), &action.Action{
		Type:     action.TypeBlockIP,
		Target:   "203.0.113.7",
		Reason:   "confirmed C2",
		Priority: action.PriorityImmediate,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if msg == "" {
		t.Fatal("expected a confirmation message")
	}
	if got.ActionType != "block_ip" || got.Target != "203.0.113.7" || got.Priority != "immediate" {
		t.Fatalf("request = %+v", got)
	}
}

func TestHTTPCapabilityErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "policy conflict", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewHTTPCapability("firewall", srv.URL)
	_, err := c.Execute(context.Background(), &action.Action{Type: action.TypeBlockIP, Target: "203.0.113.7"})
	if err == nil {
		t.Fatal("expected error on non-2xx status")
	}
	if want := "firewall returned 409"; !strings.Contains(err.Error(), want) {
		t.Fatalf("err = %q, want it to contain %q", err, want)
	}
}

func TestRegisterHelpers(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	RegisterFirewall(reg, "http://firewall")
	RegisterEDR(reg, "http://edr")
	RegisterTicketing(reg, "http://tickets")
	RegisterLocal(reg)

	for _, tc := range []struct {
		system string
		typ    action.Type
	}{
		{"firewall", action.TypeBlockIP},
		{"firewall", action.TypeBlockDomain},
		{"edr", action.TypeIsolateHost},
		{"edr", action.TypeKillProcess},
		{"edr", action.TypeQuarantineFile},
		{"ticketing", action.TypeCreateTicket},
		{"ticketing", action.TypeEscalate},
		{"sentinel", action.TypeCloseAlert},
		{"sentinel", action.TypeMonitor},
	} {
		if _, ok := reg.Get(tc.system, tc.typ); !ok {
			t.Errorf("capability missing for %s/%s", tc.system, tc.typ)
		}
	}

	if _, ok := reg.Get("firewall", action.TypeIsolateHost); ok {
		t.Error("isolate_host must not resolve on the firewall system")
	}
}

type fakeNotifier struct {
	channel string
	text    string
	err     error
}

func (f *fakeNotifier) Send(_ context.Context, channel, text string) error {
	f.channel = channel
	f.text = text
	return f.err
}

func TestChatCapability(t *testing.T) {
	t.Parallel()

	n := &fakeNotifier{}
	reg := NewRegistry()
	RegisterChat(reg, n)

	c, ok := reg.Get("chat", action.TypeNotify)
	if !ok {
		t.Fatal("chat capability not registered")
	}
	if _, err := c.Execute(context.Background(), &action.Action{
		Type:   action.TypeNotify,
		Target: "#security-alerts",
		Reason: "malicious activity: 203.0.113.7",
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if n.channel != "#security-alerts" || n.text == "" {
		t.Fatalf("notifier got channel=%q text=%q", n.channel, n.text)
	}

	n.err = fmt.Errorf("webhook 500")
	if _, err := c.Execute(context.Background(), &action.Action{Type: action.TypeNotify, Target: "#x"}); err == nil {
		t.Fatal("expected notifier error to propagate")
	}
}
