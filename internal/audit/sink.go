// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package audit

import (
	"context"

	"github.com/rs/zerolog"
)

// Sink receives audit events. Implementations must be safe for concurrent
// use and must not block for long; the Logger in front of them already
// absorbs bursts.
type Sink interface {
	Write(ctx context.Context, event *Event) error
}

// LogSink emits audit events as structured zerolog records. The external
// log pipeline tails this stream; the relay itself keeps nothing.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing through the given logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

// Write implements Sink.
func (s *LogSink) Write(_ context.Context, event *Event) error {
	rec := s.logger.Info()
	switch event.Severity {
	case SeverityWarning:
		rec = s.logger.Warn()
	case SeverityCritical:
		rec = s.logger.Error()
	}

	rec = rec.
		Str("audit_id", event.ID).
		Time("audit_time", event.Timestamp).
		Str("event_type", string(event.Type)).
		Str("severity", string(event.Severity)).
		Str("outcome", string(event.Outcome))

	if event.Actor != "" {
		rec = rec.Str("actor", event.Actor)
	}
	if event.Action != "" {
		rec = rec.Str("action", event.Action)
	}
	if len(event.Metadata) > 0 {
		rec = rec.Interface("metadata", event.Metadata)
	}

	rec.Msg(event.Description)
	return nil
}
