// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package metrics defines the relay's Prometheus instrumentation.
//
// All metrics are registered with the default registry via promauto and
// exposed on /metrics by the HTTP router.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haven_relay",
		Name:      "active_connections",
		Help:      "Number of live WebSocket connections.",
	})

	// PresenceEntries tracks presence table size.
	PresenceEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haven_relay",
		Name:      "presence_entries",
		Help:      "Number of identities in the presence table.",
	})

	// MessagesInbound counts inbound messages by action kind.
	MessagesInbound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "messages_inbound_total",
		Help:      "Inbound messages by action kind.",
	}, []string{"action"})

	// Deliveries counts per-recipient delivery outcomes by action kind.
	// Outcome is one of delivered, absent, dropped.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "deliveries_total",
		Help:      "Per-recipient delivery outcomes by action kind.",
	}, []string{"action", "outcome"})

	// ValidationFailures counts events rejected by the validator.
	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "validation_failures_total",
		Help:      "Events rejected by payload validation, by action kind.",
	}, []string{"action"})

	// RateLimitRejections counts events rejected by the rate limiter.
	RateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "rate_limit_rejections_total",
		Help:      "Events rejected by the sliding-window rate limiter, by action kind.",
	}, []string{"action"})

	// AuthzDenials counts authorization failures (acting on another
	// identity's state).
	AuthzDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "authz_denials_total",
		Help:      "Events rejected because the actor targeted another identity.",
	})

	// AuthFailures counts refused handshakes.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "auth_failures_total",
		Help:      "WebSocket handshakes refused for missing or invalid credentials.",
	})

	// FanoutDuration observes the time to fan one event out to all
	// recipients.
	FanoutDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "haven_relay",
		Name:      "fanout_duration_seconds",
		Help:      "Time to fan one inbound event out to its recipient set.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"action"})

	// HTTPRequests counts HTTP side-channel requests.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haven_relay",
		Name:      "http_requests_total",
		Help:      "HTTP side-channel requests by path and status.",
	}, []string{"path", "status"})

	// HTTPDuration observes HTTP side-channel latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "haven_relay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP side-channel request latency by path.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"path"})
)
