// Package alert defines the external alert shape that triggers a case.
package alert

import "time"

// Alert is the raw security alert as delivered by an upstream alerting
// system. It is immutable once ingested; the workflow engine copies what
// it needs into case state.
type Alert struct {
	AlertID    string    `json:"alert_id"`
	Source     string    `json:"source,omitempty"`
	Type       string    `json:"type,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Host       string    `json:"host,omitempty"`
	User       string    `json:"user,omitempty"`
	Indicators []string  `json:"indicators,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// PrimaryIndicator returns the first indicator, or empty if none were attached.
func (a *Alert) PrimaryIndicator() string {
	if len(a.Indicators) == 0 {
		return ""
	}
	return a.Indicators[0]
}
