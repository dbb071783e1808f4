// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package relay implements the connection gateway and fan-out engine: it
// owns live WebSocket connections, validates and rate-limits every inbound
// event, and pushes messages to the correct recipient connections with
// best-effort delivery semantics.
package relay

import (
	"github.com/goccy/go-json"

	"github.com/haven-safety/haven-relay/internal/validation"
)

// Inbound message types.
const (
	TypeEmergencyAlert  = "emergency-alert"
	TypeChatMessage     = "chat-message"
	TypeGroupMessage    = "group-message"
	TypeUserStatus      = "user-status"
	TypeVoiceCallOffer  = "voice-call-offer"
	TypeVoiceCallAnswer = "voice-call-answer"
	TypeVoiceCallEnd    = "voice-call-end"
	TypeICECandidate    = "ice-candidate"
	TypeTypingGroup     = "typing-group"
	TypeStopTypingGroup = "stop-typing-group"
)

// Outbound-only message types.
const (
	TypeOnlineUsers = "online-users"
	TypeUserOnline  = "user-online"
	TypeUserOffline = "user-offline"
	TypeError       = "error"
)

// Message is one WebSocket frame: a type tag and a JSON payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorData is the payload of an outbound error message.
type ErrorData struct {
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`

	// RetryAfterSeconds hints how long to wait after a rate-limit
	// rejection.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// DeliveryReport summarizes one fan-out: how many recipients were
// requested, reached, absent from the presence table, or dropped because
// their send buffer was full. Partial success is a normal outcome,
// reported but never retried here.
type DeliveryReport struct {
	Requested int
	Delivered int
	Absent    int
	Dropped   int

	// AbsentIdentities lists recipients that had no presence entry.
	AbsentIdentities []string
}

// payloadMap extracts the inbound payload object. Non-object payloads
// validate as empty, which surfaces required-field errors.
func payloadMap(data any) map[string]any {
	if m, ok := data.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// MarshalMessage converts a message to JSON.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// UnmarshalMessage parses one inbound frame.
func UnmarshalMessage(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
