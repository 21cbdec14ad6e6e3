package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPSource calls one endpoint of the internal intelligence server.
// Every endpoint accepts {"indicator": "..."} and returns a JSON payload.
type HTTPSource struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewWhois returns the ownership lookup source.
func NewWhois(baseURL string) *HTTPSource {
	return newHTTPSource("whois", baseURL, "/whois/whois_lookup")
}

// NewGeoIP returns the geolocation lookup source.
func NewGeoIP(baseURL string) *HTTPSource {
	return newHTTPSource("geoip", baseURL, "/whois/geo_lookup")
}

// NewVirusTotal returns the reputation lookup source.
func NewVirusTotal(baseURL string) *HTTPSource {
	return newHTTPSource("virustotal", baseURL, "/whois/virustotal")
}

func newHTTPSource(name, baseURL, path string) *HTTPSource {
	return &HTTPSource{
		name:     name,
		endpoint: baseURL + path,
		// per-call deadlines come from the collector's context,
		// so no client-level timeout here
		httpClient: &http.Client{},
	}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

// Lookup implements Source. It posts the indicator and returns the raw
// JSON payload, or an error for any transport/status/parse problem.
func (s *HTTPSource) Lookup(ctx context.Context, indicator string) (json.RawMessage, error) {
	if indicator == "" {
		return nil, fmt.Errorf("indicator is required")
	}
	if _, err := url.Parse(s.endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	body, err := json.Marshal(map[string]string{"indicator": indicator})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s lookup failed: %w", s.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", s.name, resp.StatusCode, string(respBody))
	}

	if !json.Valid(respBody) {
		return nil, fmt.Errorf("%s returned invalid JSON", s.name)
	}
	return respBody, nil
}
