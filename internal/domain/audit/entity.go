// Package audit holds the append-only security event log and the windowed
// violation counter used for escalation.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType of a security event.
type EventType string

const (
	EventCrossTenant        EventType = "cross_tenant_attempt"
	EventPIILeakBlocked     EventType = "pii_leak_blocked"
	EventInjectionAttempt   EventType = "injection_attempt"
	EventActionClaimBlocked EventType = "action_claim_blocked"
	EventVerificationFailed EventType = "verification_failed"
	EventGroundingViolation EventType = "grounding_violation"
	EventIdentitySwitch     EventType = "identity_switch"
	EventThresholdExceeded  EventType = "violation_threshold_exceeded"
)

// IsViolation reports whether events of this type count toward the
// escalation window.
func (t EventType) IsViolation() bool {
	switch t {
	case EventCrossTenant, EventPIILeakBlocked, EventInjectionAttempt,
		EventActionClaimBlocked, EventGroundingViolation:
		return true
	}
	return false
}

// SecurityEvent is written once and never read back by the guardrail.
type SecurityEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	BusinessID string         `json:"business_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewEvent stamps a new event with a random ID.
func NewEvent(t EventType, businessID, sessionID string, details map[string]any, now time.Time) SecurityEvent {
	return SecurityEvent{
		ID:         uuid.NewString(),
		Type:       t,
		BusinessID: businessID,
		SessionID:  sessionID,
		Details:    details,
		Timestamp:  now.UTC(),
	}
}
