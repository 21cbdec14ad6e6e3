package authmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func protected(token string) (http.Handler, *bool) {
	var reached bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusNoContent)
	})
	return BearerToken(token)(inner), &reached
}

func TestBearerToken_Accepts(t *testing.T) {
	t.Parallel()

	h, reached := protected("decision-token-1")

	req := httptest.NewRequest(http.MethodPost, "/cases/abc/approve", http.NoBody)
	req.Header.Set("Authorization", "Bearer decision-token-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !*reached {
		t.Fatal("handler behind the middleware was never reached")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestBearerToken_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic ZGVtbzpkZW1v"},
		{"lowercase scheme", "bearer decision-token-1"},
		{"bare token", "decision-token-1"},
		{"wrong token", "Bearer other-token"},
		{"token prefix only", "Bearer decision"},
		{"token with suffix", "Bearer decision-token-12"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h, reached := protected("decision-token-1")

			req := httptest.NewRequest(http.MethodPost, "/cases/abc/approve", http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if *reached {
				t.Error("handler behind the middleware must not run")
			}
		})
	}
}
