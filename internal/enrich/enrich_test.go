package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// fakeSource returns a fixed payload or error, optionally after a delay.
type fakeSource struct {
	name    string
	payload json.RawMessage
	err     error
	delay   time.Duration
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Lookup(ctx context.Context, _ string) (json.RawMessage, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.payload, f.err
}

func TestCollect_AllSucceed(t *testing.T) {
	t.Parallel()

	sources := []Source{
		&fakeSource{name: "whois", payload: json.RawMessage(`{"org":"Google LLC"}`)},
		&fakeSource{name: "geoip", payload: json.RawMessage(`{"country":"US"}`)},
		&fakeSource{name: "virustotal", payload: json.RawMessage(`{"malicious":0}`)},
	}
	c := NewCollector(sources, time.Second, log.Nop(), Hooks{})

	bundle, err := c.Collect(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(bundle) != 3 {
		t.Fatalf("bundle size = %d, want 3", len(bundle))
	}
	if bundle.SucceededCount() != 3 {
		t.Errorf("SucceededCount = %d, want 3", bundle.SucceededCount())
	}
	if !bundle["whois"].OK {
		t.Error("whois result should be ok")
	}
	if string(bundle["geoip"].Payload) != `{"country":"US"}` {
		t.Errorf("geoip payload = %s", bundle["geoip"].Payload)
	}
}

func TestCollect_PartialFailure(t *testing.T) {
	t.Parallel()

	sources := []Source{
		&fakeSource{name: "whois", payload: json.RawMessage(`{"org":"x"}`)},
		&fakeSource{name: "geoip", payload: json.RawMessage(`{"country":"NL"}`)},
		&fakeSource{name: "virustotal", err: errors.New("rate limited")},
	}
	c := NewCollector(sources, time.Second, log.Nop(), Hooks{})

	bundle, err := c.Collect(context.Background(), "45.142.212.61")
	if err != nil {
		t.Fatalf("partial failure must not fail the phase: %v", err)
	}
	if bundle.SucceededCount() != 2 {
		t.Errorf("SucceededCount = %d, want 2", bundle.SucceededCount())
	}
	vt := bundle["virustotal"]
	if vt.OK {
		t.Error("virustotal result should not be ok")
	}
	if vt.Error != "rate limited" {
		t.Errorf("virustotal error = %q", vt.Error)
	}
}

func TestCollect_AllFail(t *testing.T) {
	t.Parallel()

	sources := []Source{
		&fakeSource{name: "whois", err: errors.New("boom")},
		&fakeSource{name: "geoip", err: errors.New("boom")},
	}
	c := NewCollector(sources, time.Second, log.Nop(), Hooks{})

	bundle, err := c.Collect(context.Background(), "10.0.0.1")

	var allFailed *AllFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("err = %v, want AllFailedError", err)
	}
	if allFailed.Indicator != "10.0.0.1" {
		t.Errorf("indicator = %q", allFailed.Indicator)
	}
	// failed entries remain visible in the bundle
	if len(bundle) != 2 {
		t.Errorf("bundle size = %d, want 2", len(bundle))
	}
	for name, r := range bundle {
		if r.OK || r.Error == "" {
			t.Errorf("%s: expected captured error, got %+v", name, r)
		}
	}
}

func TestCollect_SlowSourceTimesOutIndependently(t *testing.T) {
	t.Parallel()

	sources := []Source{
		&fakeSource{name: "whois", payload: json.RawMessage(`{}`)},
		&fakeSource{name: "geoip", payload: json.RawMessage(`{}`), delay: 500 * time.Millisecond},
	}
	c := NewCollector(sources, 50*time.Millisecond, log.Nop(), Hooks{})

	start := time.Now()
	bundle, err := c.Collect(context.Background(), "1.1.1.1")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if time.Since(start) > 400*time.Millisecond {
		t.Error("slow source should have been cut off by its own timeout")
	}
	if bundle["geoip"].OK {
		t.Error("geoip should have timed out")
	}
	if !bundle["whois"].OK {
		t.Error("whois should have succeeded despite geoip timing out")
	}
}

func TestCollect_NoSources(t *testing.T) {
	t.Parallel()

	c := NewCollector(nil, time.Second, log.Nop(), Hooks{})
	_, err := c.Collect(context.Background(), "8.8.8.8")

	var allFailed *AllFailedError
	if !errors.As(err, &allFailed) {
		t.Fatalf("err = %v, want AllFailedError", err)
	}
}

func TestCollect_HooksObserved(t *testing.T) {
	t.Parallel()

	type obs struct {
		source string
		ok     bool
	}
	ch := make(chan obs, 2)
	hooks := Hooks{ObserveSource: func(source string, ok bool, _ time.Duration) {
		ch <- obs{source, ok}
	}}

	sources := []Source{
		&fakeSource{name: "whois", payload: json.RawMessage(`{}`)},
		&fakeSource{name: "geoip", err: errors.New("down")},
	}
	c := NewCollector(sources, time.Second, log.Nop(), hooks)

	if _, err := c.Collect(context.Background(), "8.8.8.8"); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	seen := map[string]bool{}
	for range 2 {
		o := <-ch
		seen[o.source] = o.ok
	}
	if !seen["whois"] {
		t.Error("whois observation should be ok")
	}
	if ok, present := seen["geoip"]; !present || ok {
		t.Error("geoip observation should be a failure")
	}
}
