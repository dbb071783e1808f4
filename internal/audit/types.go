// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package audit records a structured trail of every authentication,
// validation, rate-limit and authorization outcome in the relay.
//
// The relay only emits audit records; durable storage and analysis belong
// to the external log/metrics pipeline, which consumes the structured log
// stream produced by LogSink.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit events.
type EventType string

// Audit event types.
const (
	EventAuthSuccess EventType = "auth.success"
	EventAuthFailure EventType = "auth.failure"

	EventValidationFailed EventType = "message.validation_failed"
	EventRateLimited      EventType = "message.rate_limited"
	EventAuthzDenied      EventType = "message.authz_denied"
	EventRelayed          EventType = "message.relayed"

	EventConnected     EventType = "presence.connected"
	EventDisconnected  EventType = "presence.disconnected"
	EventStatusChanged EventType = "presence.status_changed"
)

// Severity indicates the significance of an audit event.
type Severity string

// Severity levels, ordered.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for filtering.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// Outcome is the result of the audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeDropped Outcome = "dropped"
)

// Event is one audit record.
type Event struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        EventType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Outcome     Outcome        `json:"outcome"`
	Actor       string         `json:"actor,omitempty"`
	Action      string         `json:"action,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an Event with a fresh ID and timestamp.
func NewEvent(eventType EventType, severity Severity, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Outcome:   outcome,
	}
}

// WithActor sets the acting identity.
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithAction sets the actionKind being audited.
func (e *Event) WithAction(action string) *Event {
	e.Action = action
	return e
}

// WithDescription sets a human-readable description.
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithMetadata attaches one metadata key/value pair.
func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}
