// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package ratelimit implements sliding-window admission control for inbound
// relay events.
//
// Each (identity, action) pair maps to an ordered list of recent event
// timestamps. Admission discards entries older than the policy window,
// rejects when the remaining count has reached the policy maximum, and
// appends the current time otherwise. A background sweeper removes keys
// whose lists have gone entirely stale, bounding memory for identities that
// stop sending.
//
// Rejection is a distinct outcome from validation failure so user-facing
// messaging can differentiate "too fast" from "malformed".
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/haven-safety/haven-relay/internal/config"
	"github.com/haven-safety/haven-relay/internal/logging"
)

// rateKey identifies one admission window.
type rateKey struct {
	identity string
	action   string
}

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the event was admitted.
	Allowed bool

	// RetryAfter hints how long the sender must wait before the next event
	// of this kind can be admitted. Zero when Allowed.
	RetryAfter time.Duration

	// Remaining is the number of further events admissible in the current
	// window after this decision.
	Remaining int
}

// Limiter is a sliding-window rate limiter keyed by (identity, action).
// Safe for concurrent use. Construct with New.
type Limiter struct {
	mu      sync.Mutex
	windows map[rateKey][]time.Time

	retention     time.Duration
	sweepInterval time.Duration

	// now is injectable for tests.
	now func() time.Time
}

// New creates a Limiter. Retention bounds how long stale keys survive
// between sweeps; sweepInterval is the sweeper cadence.
func New(retention, sweepInterval time.Duration) *Limiter {
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Limiter{
		windows:       make(map[rateKey][]time.Time),
		retention:     retention,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
}

// Admit checks whether identity may perform action under policy. Admitted
// events are recorded; rejected events leave the window untouched.
func (l *Limiter) Admit(identity, action string, policy config.RatePolicy) Decision {
	now := l.now()
	key := rateKey{identity: identity, action: action}
	cutoff := now.Add(-policy.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.windows[key]

	// Lazily discard entries older than the window.
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= policy.Max {
		l.windows[key] = live
		// The oldest live entry leaving the window frees one slot.
		retry := live[0].Add(policy.Window).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, RetryAfter: retry}
	}

	live = append(live, now)
	l.windows[key] = live
	return Decision{Allowed: true, Remaining: policy.Max - len(live)}
}

// Sweep removes keys whose timestamp lists are empty or entirely older than
// the retention window. Locking is per key step so a large map scan never
// starves live traffic.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.retention)

	l.mu.Lock()
	keys := make([]rateKey, 0, len(l.windows))
	for key := range l.windows {
		keys = append(keys, key)
	}
	l.mu.Unlock()

	removed := 0
	for _, key := range keys {
		l.mu.Lock()
		stamps, ok := l.windows[key]
		if ok && allStale(stamps, cutoff) {
			delete(l.windows, key)
			removed++
		}
		l.mu.Unlock()
	}
	return removed
}

// allStale reports whether every timestamp is at or before the cutoff.
func allStale(stamps []time.Time, cutoff time.Time) bool {
	for _, ts := range stamps {
		if ts.After(cutoff) {
			return false
		}
	}
	return true
}

// KeyCount returns the number of tracked (identity, action) keys.
func (l *Limiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Serve implements suture.Service: it runs the sweep on a fixed interval
// until the context is canceled.
func (l *Limiter) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				logging.Debug().
					Int("removed", removed).
					Int("remaining", l.KeyCount()).
					Msg("rate limiter sweep completed")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (l *Limiter) String() string {
	return "ratelimit-sweeper"
}
