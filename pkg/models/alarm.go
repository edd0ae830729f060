package models

import "time"

// Alarm kinds.
const (
	KindErrorRate    = "error_rate"
	KindP95Regress   = "p95_regress"
	KindSLOViolation = "slo_violation"
)

// Alarm severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// RouteOwner is the statically configured owner of a route.
type RouteOwner struct {
	Owner        string `json:"owner" yaml:"owner"`
	SlackWebhook string `json:"slack_webhook,omitempty" yaml:"slack_webhook"`
}

// Alarm is one finding from an evaluation pass. Alarms are ephemeral; they
// are fed to the incident correlator and the dispatcher, never persisted
// directly.
type Alarm struct {
	Route    string                 `json:"route"`
	Kind     string                 `json:"kind"`
	Severity string                 `json:"severity"`
	Since    time.Time              `json:"since"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
	Owner    *RouteOwner            `json:"owner,omitempty"`
	Hint     string                 `json:"hint,omitempty"`
}

// Key returns the correlation key shared with incidents.
func (a Alarm) Key() string {
	return a.Route + "::" + a.Kind
}
