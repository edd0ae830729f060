package models

import (
	"time"

	"github.com/google/uuid"
)

// Incident statuses.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// IncidentMetadata carries the latest alarm context. lastEvidence and
// lastHint are overwritten on every contributing alarm, not merged.
type IncidentMetadata struct {
	LastEvidence map[string]interface{} `json:"lastEvidence,omitempty"`
	LastHint     string                 `json:"lastHint,omitempty"`
	SentryURL    string                 `json:"sentryUrl,omitempty"`
}

// Incident is the persisted record for a repeated alarm, unique on
// IncidentKey (route::kind). Only administrative action moves it out of
// the open status.
type Incident struct {
	ID              uuid.UUID        `json:"id"`
	IncidentKey     string           `json:"incident_key"`
	Route           string           `json:"route"`
	Kind            string           `json:"kind"`
	Status          string           `json:"status"`
	Severity        string           `json:"severity"`
	FirstSeen       time.Time        `json:"first_seen"`
	LastSeen        time.Time        `json:"last_seen"`
	EscalationLevel int              `json:"escalation_level"`
	EscalatedAt     *time.Time       `json:"escalated_at,omitempty"`
	AcknowledgedAt  *time.Time       `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  *string          `json:"acknowledged_by,omitempty"`
	Owner           *RouteOwner      `json:"owner,omitempty"`
	Metadata        IncidentMetadata `json:"metadata"`
}

// EscalationEvent records one successful level bump. The unique event hash
// makes a level bump idempotent under concurrent or retried ticks.
type EscalationEvent struct {
	ID              uuid.UUID `json:"id"`
	IncidentID      uuid.UUID `json:"incident_id"`
	IncidentKey     string    `json:"incident_key"`
	EscalationLevel int       `json:"escalation_level"`
	EventHash       string    `json:"event_hash"`
	CreatedAt       time.Time `json:"created_at"`
}
