// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haven-safety/haven-relay/internal/audit"
	"github.com/haven-safety/haven-relay/internal/auth"
	"github.com/haven-safety/haven-relay/internal/config"
	"github.com/haven-safety/haven-relay/internal/logging"
	"github.com/haven-safety/haven-relay/internal/metrics"
	"github.com/haven-safety/haven-relay/internal/presence"
	"github.com/haven-safety/haven-relay/internal/relay"
)

// Handler serves the HTTP side channel and the WebSocket gateway.
type Handler struct {
	hub      *relay.Hub
	table    *presence.Table
	verifier auth.Verifier
	auditor  *audit.Logger
	upgrader websocket.Upgrader

	startTime time.Time
	version   string
}

// NewHandler creates a Handler wired to the relay hub.
func NewHandler(
	hub *relay.Hub,
	table *presence.Table,
	verifier auth.Verifier,
	auditor *audit.Logger,
	cfg config.SecurityConfig,
	version string,
) *Handler {
	return &Handler{
		hub:      hub,
		table:    table,
		verifier: verifier,
		auditor:  auditor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.CORSOrigins),
		},
		startTime: time.Now(),
		version:   version,
	}
}

// originChecker builds the Upgrader origin policy from the configured
// CORS origins. A lone "*" admits every origin.
func originChecker(origins []string) func(*http.Request) bool {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		return allowed[origin]
	}
}

// HealthResponse is the payload of the health endpoints.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
	OnlineUsers   int    `json:"online_users"`
}

// HandleHealth reports overall server health with connection counts.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, HealthResponse{
		Status:        "ok",
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Connections:   h.hub.ClientCount(),
		OnlineUsers:   len(h.table.Identities()),
	})
}

// HandleLiveness is the kubernetes-style liveness probe. Always succeeds
// while the process can serve requests.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "alive"})
}

// HandleReadiness is the readiness probe.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, map[string]string{"status": "ready"})
}

// HandlePresence lists the current presence table. Requires a valid
// credential; any authenticated identity may read the listing.
func (h *Handler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	views := h.table.Snapshot()
	WriteSuccess(w, r, map[string]any{
		"users": views,
		"count": len(views),
	})
}

// HandleWebSocket is the connection gateway. The credential is verified
// before the upgrade so an unauthenticated caller gets a plain 401 and
// never touches the presence table.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		logging.Warn().Err(err).Str("identity", identity).Msg("websocket upgrade failed")
		return
	}

	client := relay.NewClient(h.hub, conn, identity)
	h.hub.Register <- client
	client.Start()

	h.auditor.Record(audit.NewEvent(audit.EventAuthSuccess, audit.SeverityInfo, audit.OutcomeSuccess).
		WithActor(identity).
		WithDescription("websocket connection authenticated"))

	logging.Info().
		Str("identity", identity).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connection established")
}

// authenticate extracts and verifies the bearer credential. On failure it
// writes the 401, records the audit event and returns ok=false.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, err := auth.BearerFromRequest(r)
	if err != nil {
		h.rejectCredential(w, r, "missing credential", err)
		return "", false
	}

	identity, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		h.rejectCredential(w, r, "invalid credential", err)
		return "", false
	}
	return identity, true
}

func (h *Handler) rejectCredential(w http.ResponseWriter, r *http.Request, message string, err error) {
	metrics.AuthFailures.Inc()

	reason := "invalid"
	if errors.Is(err, auth.ErrMissingCredential) {
		reason = "missing"
	}
	h.auditor.Record(audit.NewEvent(audit.EventAuthFailure, audit.SeverityWarning, audit.OutcomeDenied).
		WithDescription("credential rejected").
		WithMetadata("reason", reason).
		WithMetadata("path", r.URL.Path))

	logging.Warn().
		Err(err).
		Str("remote_addr", r.RemoteAddr).
		Str("path", r.URL.Path).
		Msg("authentication failed")

	NewResponseWriter(w, r).Unauthorized(message)
}
