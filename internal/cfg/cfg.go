package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	IntelEndpoint         string
	SourceTimeoutSeconds  int
	ClaudeAPIKey          string
	ClaudeModel           string
	DatabaseURL           string
	NATSURL               string
	SlackWebhookURL       string
	FirewallEndpoint      string
	EDREndpoint           string
	TicketingEndpoint     string
	ApprovalTTLSeconds    int
	AutoCloseConfidence   float64
	AuthToken             string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.IntelEndpoint, "intel-endpoint", "", "base URL of the threat intelligence server (whois/geoip/virustotal)")
	fs.IntVar(&c.SourceTimeoutSeconds, "source-timeout-seconds", 15, "per-source enrichment timeout in seconds (1..120)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for accessing the Claude LLM provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory stores)")
	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS URL for case lifecycle events (empty = disabled)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
	fs.StringVar(&c.FirewallEndpoint, "firewall-endpoint", "", "firewall API endpoint for block actions (empty = skipped)")
	fs.StringVar(&c.EDREndpoint, "edr-endpoint", "", "EDR API endpoint for host actions (empty = skipped)")
	fs.StringVar(&c.TicketingEndpoint, "ticketing-endpoint", "", "ticketing API endpoint (empty = skipped)")
	fs.IntVar(&c.ApprovalTTLSeconds, "approval-ttl-seconds", 3600, "seconds before a pending approval expires (60..86400)")
	fs.Float64Var(&c.AutoCloseConfidence, "auto-close-confidence", 0.7, "benign confidence at or above which alerts auto-close (0..1]")
	fs.StringVar(&c.AuthToken, "auth-token", "", "bearer token required on decision endpoints (empty = auth disabled)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Intel endpoint is required for enrichment
	if c.IntelEndpoint == "" {
		errs = append(errs, errors.New("INTEL_ENDPOINT is required"))
	}

	if c.SourceTimeoutSeconds <= 0 || c.SourceTimeoutSeconds > 120 {
		errs = append(errs, fmt.Errorf("invalid SOURCE_TIMEOUT_SECONDS %d (must be 1..120)", c.SourceTimeoutSeconds))
	}

	// Claude API key is required for LLM access
	if c.ClaudeAPIKey == "" {
		errs = append(errs, errors.New("CLAUDE_API_KEY is required"))
	}

	// Claude model is required for LLM access
	if c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required"))
	}

	if c.ApprovalTTLSeconds < 60 || c.ApprovalTTLSeconds > 86400 {
		errs = append(errs, fmt.Errorf("invalid APPROVAL_TTL_SECONDS %d (must be 60..86400)", c.ApprovalTTLSeconds))
	}

	if c.AutoCloseConfidence <= 0 || c.AutoCloseConfidence > 1 {
		errs = append(errs, fmt.Errorf("invalid AUTO_CLOSE_CONFIDENCE %g (must be in (0..1])", c.AutoCloseConfidence))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
