// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/haven-safety/haven-relay/internal/audit"
	"github.com/haven-safety/haven-relay/internal/config"
	"github.com/haven-safety/haven-relay/internal/logging"
	"github.com/haven-safety/haven-relay/internal/metrics"
	"github.com/haven-safety/haven-relay/internal/presence"
	"github.com/haven-safety/haven-relay/internal/ratelimit"
	"github.com/haven-safety/haven-relay/internal/validation"
)

// Hub owns the set of live clients and serializes connect/disconnect
// against the presence table. Inbound events are processed on the reader
// goroutines; only lifecycle transitions flow through the hub loop so
// presence mutations and their notifications stay ordered.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	table     *presence.Table
	validator *validation.Validator
	limiter   *ratelimit.Limiter
	auditor   *audit.Logger

	cfg     config.RelayConfig
	rateCfg config.RateLimitConfig

	mu      sync.RWMutex
	clients map[*Client]bool
}

// NewHub creates a Hub over the given collaborators.
func NewHub(
	table *presence.Table,
	validator *validation.Validator,
	limiter *ratelimit.Limiter,
	auditor *audit.Logger,
	cfg config.RelayConfig,
	rateCfg config.RateLimitConfig,
) *Hub {
	return &Hub{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		table:      table,
		validator:  validator,
		limiter:    limiter,
		auditor:    auditor,
		cfg:        cfg,
		rateCfg:    rateCfg,
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub lifecycle loop until the context is
// canceled. Designed for suture supervision.
//
// Selection is priority based so behavior stays predictable when several
// channels are ready: shutdown first, then lifecycle events.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check).
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: lifecycle events (blocking wait).
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.handleRegister(client)

		case client := <-h.Unregister:
			h.handleUnregister(client)
		}
	}
}

// Serve implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	return h.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (h *Hub) String() string {
	return "relay-hub"
}

// handleRegister creates the presence entry for a new client, closes any
// replaced connection for the same identity, sends the presence snapshot
// to the newcomer and announces it to everyone else.
func (h *Hub) handleRegister(client *Client) {
	replaced := h.table.Register(client.identity, client)
	if replaced != nil {
		// Last writer wins: the orphaned tab gets a clean close frame.
		if old, ok := replaced.(*Client); ok {
			old.closeSend()
			h.mu.Lock()
			delete(h.clients, old)
			h.mu.Unlock()
		}
		logging.Info().
			Str("identity", client.identity).
			Msg("replaced existing connection for identity")
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	metrics.PresenceEntries.Set(float64(h.table.Count()))

	// The newcomer gets the full snapshot; everyone else learns about the
	// newcomer.
	client.TrySend(TypeOnlineUsers, map[string]any{"users": h.table.Identities()})
	h.broadcastExcept(client.identity, TypeUserOnline, map[string]any{"userId": client.identity})

	h.auditor.Record(audit.NewEvent(audit.EventConnected, audit.SeverityInfo, audit.OutcomeSuccess).
		WithActor(client.identity).
		WithDescription("connection registered"))

	logging.Info().
		Str("identity", client.identity).
		Int("total_clients", total).
		Msg("client connected")
}

// handleUnregister removes the client's presence entry and announces the
// offline transition. Idempotent: disconnect signals can race logout, and
// a stale connection must not evict a newer one for the same identity.
func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	known := h.clients[client]
	delete(h.clients, client)
	total := len(h.clients)
	h.mu.Unlock()

	client.closeSend()

	if !known {
		return
	}

	removed := h.table.Remove(client.identity, client)
	metrics.ActiveConnections.Set(float64(total))
	metrics.PresenceEntries.Set(float64(h.table.Count()))

	if removed {
		h.broadcastExcept(client.identity, TypeUserOffline, map[string]any{"userId": client.identity})
		h.auditor.Record(audit.NewEvent(audit.EventDisconnected, audit.SeverityInfo, audit.OutcomeSuccess).
			WithActor(client.identity).
			WithDescription("connection removed"))
	}

	logging.Info().
		Str("identity", client.identity).
		Int("total_clients", total).
		Msg("client disconnected")
}

// broadcastExcept pushes one message to every online identity except the
// excluded one. Sends are non-blocking; a full buffer drops that one
// delivery.
func (h *Hub) broadcastExcept(exclude, msgType string, data any) {
	recipients := h.table.Recipients(exclude)

	// Deterministic order keeps tests and log interleavings stable.
	identities := make([]string, 0, len(recipients))
	for identity := range recipients {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	for _, identity := range identities {
		recipients[identity].TrySend(msgType, data)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// shutdown closes all clients in ID order and logs the reason.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]bool)
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		h.table.Remove(client.identity, client)
		client.closeSend()
	}

	metrics.ActiveConnections.Set(0)
	metrics.PresenceEntries.Set(float64(h.table.Count()))

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "relay-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("relay hub stopped")
}
