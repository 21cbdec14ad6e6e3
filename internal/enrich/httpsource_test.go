package enrich

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPSource_Lookup(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/whois/whois_lookup" {
			t.Errorf("path = %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("request body not JSON: %v", err)
		}
		if req["indicator"] != "8.8.8.8" {
			t.Errorf("indicator = %q", req["indicator"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"asn":"AS15169","org":"Google LLC"}`))
	}))
	defer srv.Close()

	src := NewWhois(srv.URL)
	if src.Name() != "whois" {
		t.Errorf("Name = %q, want whois", src.Name())
	}

	payload, err := src.Lookup(context.Background(), "8.8.8.8")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !strings.Contains(string(payload), "Google LLC") {
		t.Errorf("payload = %s", payload)
	}
}

func TestHTTPSource_Lookup_HTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewGeoIP(srv.URL)
	_, err := src.Lookup(context.Background(), "8.8.8.8")
	if err == nil {
		t.Fatal("expected error for 502")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestHTTPSource_Lookup_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	src := NewVirusTotal(srv.URL)
	_, err := src.Lookup(context.Background(), "8.8.8.8")
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("err = %v, want invalid JSON", err)
	}
}

func TestHTTPSource_Lookup_EmptyIndicator(t *testing.T) {
	t.Parallel()

	src := NewWhois("http://example.invalid")
	if _, err := src.Lookup(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty indicator")
	}
}

func TestHTTPSource_Lookup_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := NewWhois(srv.URL)
	if _, err := src.Lookup(ctx, "8.8.8.8"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
