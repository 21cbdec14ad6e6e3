package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/sentinel/internal/action"
)

// HTTPCapability drives a downstream system over its HTTP API. The
// request is a POST of the action's essentials to a fixed endpoint;
// any 2xx is success.
type HTTPCapability struct {
	name       string
	endpoint   string
	httpClient *http.Client
}

// NewHTTPCapability creates an HTTP-backed capability. name labels the
// downstream system in messages; endpoint is the full URL to POST to.
func NewHTTPCapability(name, endpoint string) *HTTPCapability {
	return &HTTPCapability{
		name:       name,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type httpCapRequest struct {
	ActionType string `json:"action_type"`
	Target     string `json:"target"`
	Reason     string `json:"reason"`
	Priority   string `json:"priority"`
}

// Execute posts the action to the downstream endpoint.
func (h *HTTPCapability) Execute(ctx context.Context, a *action.Action) (string, error) {
	body, err := json.Marshal(httpCapRequest{
		ActionType: string(a.Type),
		Target:     a.Target,
		Reason:     a.Reason,
		Priority:   string(a.Priority),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: %w", h.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only response body

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return "", fmt.Errorf("%s returned %d: %s", h.name, resp.StatusCode, snippet)
	}

	return fmt.Sprintf("%s accepted %s for %s", h.name, a.Type, a.Target), nil
}

// RegisterFirewall binds block actions to a firewall endpoint.
func RegisterFirewall(r *Registry, endpoint string) {
	c := NewHTTPCapability("firewall", endpoint)
	r.Register("firewall", action.TypeBlockIP, c)
	r.Register("firewall", action.TypeBlockDomain, c)
}

// RegisterEDR binds host and process actions to an EDR endpoint.
func RegisterEDR(r *Registry, endpoint string) {
	c := NewHTTPCapability("edr", endpoint)
	r.Register("edr", action.TypeIsolateHost, c)
	r.Register("edr", action.TypeKillProcess, c)
	r.Register("edr", action.TypeQuarantineFile, c)
}

// RegisterTicketing binds ticket and escalation actions to a ticketing
// endpoint.
func RegisterTicketing(r *Registry, endpoint string) {
	c := NewHTTPCapability("ticketing", endpoint)
	r.Register("ticketing", action.TypeCreateTicket, c)
	r.Register("ticketing", action.TypeEscalate, c)
}
