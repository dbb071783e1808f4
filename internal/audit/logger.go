// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package audit

import (
	"context"
	"sync"

	"github.com/haven-safety/haven-relay/internal/logging"
)

// Logger buffers audit events and writes them to a Sink asynchronously.
// Recording never blocks the relay path: when the buffer is full the event
// is dropped and counted, which is preferable to stalling message
// delivery.
type Logger struct {
	sink        Sink
	events      chan *Event
	minSeverity Severity

	mu      sync.Mutex
	dropped uint64
	closed  bool
	done    chan struct{}
}

// Options tunes the audit logger.
type Options struct {
	// BufferSize is the event queue depth. Default 1000.
	BufferSize int

	// MinSeverity filters out events below this severity. Default info.
	MinSeverity Severity
}

// NewLogger creates and starts an audit logger writing to sink.
func NewLogger(sink Sink, opts Options) *Logger {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.MinSeverity == "" {
		opts.MinSeverity = SeverityInfo
	}

	l := &Logger{
		sink:        sink,
		events:      make(chan *Event, opts.BufferSize),
		minSeverity: opts.MinSeverity,
		done:        make(chan struct{}),
	}
	go l.run()
	return l
}

// Record queues an event for writing. Safe to call from any goroutine;
// never blocks.
func (l *Logger) Record(event *Event) {
	if event == nil || !event.Severity.AtLeast(l.minSeverity) {
		return
	}

	// The lock covers the send so Close cannot close the channel between
	// the closed check and the enqueue.
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	select {
	case l.events <- event:
	default:
		l.dropped++
		logging.Warn().
			Uint64("dropped_total", l.dropped).
			Str("event_type", string(event.Type)).
			Msg("audit buffer full, event dropped")
	}
}

// Dropped returns the number of events dropped due to a full buffer.
func (l *Logger) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close drains the queue and stops the writer. Record calls after Close
// are discarded.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	close(l.events)
	<-l.done
}

// run is the single writer goroutine.
func (l *Logger) run() {
	defer close(l.done)
	for event := range l.events {
		if err := l.sink.Write(context.Background(), event); err != nil {
			logging.Err(err).
				Str("event_type", string(event.Type)).
				Msg("audit sink write failed")
		}
	}
}
