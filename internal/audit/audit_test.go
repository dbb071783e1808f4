// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package audit

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/haven-safety/haven-relay/internal/logging"
)

// captureSink collects written events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *captureSink) Write(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestNewEventFields(t *testing.T) {
	e := NewEvent(EventAuthzDenied, SeverityWarning, OutcomeDenied).
		WithActor("user-1").
		WithAction("user-status").
		WithDescription("attempted to set another identity's status").
		WithMetadata("target", "user-2")

	if e.ID == "" {
		t.Error("expected non-empty event ID")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp set")
	}
	if e.Actor != "user-1" || e.Action != "user-status" {
		t.Errorf("unexpected actor/action: %q/%q", e.Actor, e.Action)
	}
	if e.Metadata["target"] != "user-2" {
		t.Errorf("unexpected metadata: %v", e.Metadata)
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityInfo) {
		t.Error("critical should be at least info")
	}
	if !SeverityWarning.AtLeast(SeverityWarning) {
		t.Error("warning should be at least warning")
	}
	if SeverityInfo.AtLeast(SeverityWarning) {
		t.Error("info should not be at least warning")
	}
}

func TestLoggerWritesEvents(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(sink, Options{BufferSize: 10})

	logger.Record(NewEvent(EventAuthSuccess, SeverityInfo, OutcomeSuccess).WithActor("user-1"))
	logger.Record(NewEvent(EventRelayed, SeverityInfo, OutcomeSuccess).WithActor("user-1"))
	logger.Close()

	if got := sink.count(); got != 2 {
		t.Errorf("sink received %d events, want 2", got)
	}
}

func TestLoggerSeverityFilter(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(sink, Options{BufferSize: 10, MinSeverity: SeverityWarning})

	logger.Record(NewEvent(EventAuthSuccess, SeverityInfo, OutcomeSuccess))
	logger.Record(NewEvent(EventAuthzDenied, SeverityWarning, OutcomeDenied))
	logger.Close()

	if got := sink.count(); got != 1 {
		t.Errorf("sink received %d events, want 1 (info filtered)", got)
	}
}

func TestLoggerRecordAfterClose(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(sink, Options{BufferSize: 10})
	logger.Close()

	// Must not panic.
	logger.Record(NewEvent(EventAuthSuccess, SeverityInfo, OutcomeSuccess))
	logger.Close()
}

func TestLoggerConcurrentRecord(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(sink, Options{BufferSize: 1024})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				logger.Record(NewEvent(EventRelayed, SeverityInfo, OutcomeSuccess))
			}
		}()
	}
	wg.Wait()
	logger.Close()

	if got := sink.count(); got != 400 {
		t.Errorf("sink received %d events, want 400", got)
	}
}

func TestLogSinkOutput(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewTestLogger(&buf))

	event := NewEvent(EventRateLimited, SeverityWarning, OutcomeDropped).
		WithActor("user-9").
		WithAction("emergency-alert").
		WithDescription("rate limit exceeded")

	if err := sink.Write(context.Background(), event); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		`"event_type":"message.rate_limited"`,
		`"actor":"user-9"`,
		`"action":"emergency-alert"`,
		`"outcome":"dropped"`,
		"rate limit exceeded",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in output, got %s", want, out)
		}
	}
}
