// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package relay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/haven-safety/haven-relay/internal/audit"
	"github.com/haven-safety/haven-relay/internal/config"
	"github.com/haven-safety/haven-relay/internal/logging"
	"github.com/haven-safety/haven-relay/internal/presence"
	"github.com/haven-safety/haven-relay/internal/ratelimit"
	"github.com/haven-safety/haven-relay/internal/validation"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()

	auditor := audit.NewLogger(audit.NewLogSink(logging.NewTestLogger(io.Discard)), audit.Options{BufferSize: 128})
	t.Cleanup(auditor.Close)

	return NewHub(
		presence.NewTable(),
		validation.New(4),
		ratelimit.New(5*time.Minute, time.Minute),
		auditor,
		config.RelayConfig{
			SendBuffer:        16,
			MaxMessageSize:    64 << 10,
			LocationPrecision: 4,
			ReadRate:          100,
			ReadBurst:         100,
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
		},
		config.RateLimitConfig{
			Emergency: config.RatePolicy{Window: time.Minute, Max: 5},
			Chat:      config.RatePolicy{Window: time.Minute, Max: 60},
			Group:     config.RatePolicy{Window: time.Minute, Max: 30},
			Status:    config.RatePolicy{Window: time.Minute, Max: 30},
			Signaling: config.RatePolicy{Window: time.Minute, Max: 60},
			Typing:    config.RatePolicy{Window: time.Minute, Max: 120},
		},
	)
}

// connect registers a client without starting socket pumps.
func connect(h *Hub, identity string) *Client {
	c := NewClient(h, nil, identity)
	h.handleRegister(c)
	return c
}

// recv drains one queued message, or fails.
func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatal("expected a queued message")
		return Message{}
	}
}

// drain empties a client's queue and returns the message types seen.
func drain(c *Client) []string {
	var types []string
	for {
		select {
		case msg := <-c.send:
			types = append(types, msg.Type)
		default:
			return types
		}
	}
}

func TestRegisterSendsSnapshotAndAnnounces(t *testing.T) {
	h := newTestHub(t)

	a := connect(h, "user-a")
	msg := recv(t, a)
	if msg.Type != TypeOnlineUsers {
		t.Fatalf("first message = %q, want %q", msg.Type, TypeOnlineUsers)
	}

	b := connect(h, "user-b")
	if msg := recv(t, b); msg.Type != TypeOnlineUsers {
		t.Fatalf("snapshot for b = %q, want %q", msg.Type, TypeOnlineUsers)
	}

	// a learns about b.
	msg = recv(t, a)
	if msg.Type != TypeUserOnline {
		t.Fatalf("announcement = %q, want %q", msg.Type, TypeUserOnline)
	}
	data := msg.Data.(map[string]any)
	if data["userId"] != "user-b" {
		t.Errorf("announced userId = %v, want user-b", data["userId"])
	}
}

func TestUnregisterRemovesPresenceAndAnnounces(t *testing.T) {
	h := newTestHub(t)

	a := connect(h, "user-a")
	b := connect(h, "user-b")
	drain(a)
	drain(b)

	h.handleUnregister(b)

	if _, ok := h.table.Get("user-b"); ok {
		t.Error("user-b should be gone from the presence table")
	}
	msg := recv(t, a)
	if msg.Type != TypeUserOffline {
		t.Errorf("expected %q announcement, got %q", TypeUserOffline, msg.Type)
	}

	// Idempotent: a second unregister must not panic or re-announce.
	h.handleUnregister(b)
	if types := drain(a); len(types) != 0 {
		t.Errorf("unexpected messages after duplicate unregister: %v", types)
	}
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	h := newTestHub(t)

	first := connect(h, "user-a")
	drain(first)
	second := connect(h, "user-a")

	if h.ClientCount() != 1 {
		t.Errorf("ClientCount = %d, want 1", h.ClientCount())
	}
	if got, _ := h.table.Get("user-a"); got != second {
		t.Error("presence table should hold the newest connection")
	}
	if first.TrySend("x", nil) {
		t.Error("replaced connection should refuse new sends")
	}

	// The stale connection's teardown must not evict the new one.
	h.handleUnregister(first)
	if _, ok := h.table.Get("user-a"); !ok {
		t.Error("live connection must survive stale teardown")
	}
}

func TestGroupFanoutCountsAbsent(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	a := connect(h, "A")
	c := connect(h, "C")
	drain(sender)
	drain(a)
	drain(c)

	report := h.Relay("sender", TypeGroupMessage, map[string]any{
		"message":    "hello",
		"recipients": []string{"A", "B", "C"},
	})

	if report.Requested != 3 {
		t.Errorf("Requested = %d, want 3", report.Requested)
	}
	if report.Delivered != 2 {
		t.Errorf("Delivered = %d, want 2", report.Delivered)
	}
	if report.Absent != 1 {
		t.Errorf("Absent = %d, want 1", report.Absent)
	}
	if len(report.AbsentIdentities) != 1 || report.AbsentIdentities[0] != "B" {
		t.Errorf("AbsentIdentities = %v, want [B]", report.AbsentIdentities)
	}

	for _, recipient := range []*Client{a, c} {
		msg := recv(t, recipient)
		if msg.Type != TypeGroupMessage {
			t.Errorf("recipient got %q, want %q", msg.Type, TypeGroupMessage)
		}
		data := msg.Data.(map[string]any)
		if data["from"] != "sender" {
			t.Errorf("from = %v, want sender", data["from"])
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	a := connect(h, "A")
	b := connect(h, "B")
	drain(sender)
	drain(a)
	drain(b)

	report := h.Relay("sender", TypeGroupMessage, map[string]any{"message": "to everyone"})

	if report.Requested != 2 || report.Delivered != 2 {
		t.Errorf("report = %+v, want 2 requested and delivered", report)
	}
	if types := drain(sender); len(types) != 0 {
		t.Errorf("sender must never receive its own broadcast, got %v", types)
	}
	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Error("both other clients should receive the broadcast")
	}
}

func TestGroupListExcludesSender(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	a := connect(h, "A")
	drain(sender)
	drain(a)

	report := h.Relay("sender", TypeGroupMessage, map[string]any{
		"message":    "hi",
		"recipients": []string{"sender", "A"},
	})

	if report.Requested != 1 {
		t.Errorf("Requested = %d, want 1 (sender excluded)", report.Requested)
	}
	if types := drain(sender); len(types) != 0 {
		t.Errorf("sender must be excluded from its own target list, got %v", types)
	}
}

func TestDirectMessageToAbsentRecipient(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	drain(sender)

	report := h.Relay("sender", TypeChatMessage, map[string]any{
		"to":      "ghost",
		"message": "anyone there?",
	})

	if report.Delivered != 0 || report.Absent != 1 {
		t.Errorf("report = %+v, want 0 delivered, 1 absent", report)
	}
	// DeliveryGap is not an error: nothing is echoed to the sender.
	if types := drain(sender); len(types) != 0 {
		t.Errorf("absent recipient must not produce a sender-visible error, got %v", types)
	}
}

func TestSignalingDirectAndFallback(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	a := connect(h, "A")
	b := connect(h, "B")
	drain(sender)
	drain(a)
	drain(b)

	// Directed: only A gets it.
	report := h.Relay("sender", TypeVoiceCallOffer, map[string]any{
		"to":  "A",
		"sdp": "v=0",
	})
	if report.Delivered != 1 {
		t.Errorf("directed signaling: Delivered = %d, want 1", report.Delivered)
	}
	if len(drain(a)) != 1 || len(drain(b)) != 0 {
		t.Error("directed signaling must reach only the named recipient")
	}

	// No target: broadcast-all-except-sender fallback.
	report = h.Relay("sender", TypeICECandidate, map[string]any{"candidate": "c"})
	if report.Delivered != 2 {
		t.Errorf("fallback signaling: Delivered = %d, want 2", report.Delivered)
	}
	if types := drain(sender); len(types) != 0 {
		t.Errorf("fallback must exclude sender, got %v", types)
	}
}

func TestHandleInboundValidationFailure(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	a := connect(h, "A")
	drain(sender)
	drain(a)

	h.HandleInbound(sender, Message{
		Type: TypeChatMessage,
		Data: map[string]any{"to": "A", "message": "<script>alert(1)</script>"},
	})

	msg := recv(t, sender)
	if msg.Type != TypeError {
		t.Fatalf("expected error echoed to sender, got %q", msg.Type)
	}
	errData := msg.Data.(ErrorData)
	if len(errData.Fields) == 0 {
		t.Error("expected field errors attached")
	}
	if types := drain(a); len(types) != 0 {
		t.Errorf("invalid event must not reach recipients, got %v", types)
	}
}

func TestHandleInboundRateLimit(t *testing.T) {
	h := newTestHub(t)
	h.rateCfg.Emergency = config.RatePolicy{Window: time.Minute, Max: 2}
	sender := connect(h, "sender")
	a := connect(h, "A")
	drain(sender)
	drain(a)

	for i := 0; i < 2; i++ {
		h.HandleInbound(sender, Message{
			Type: TypeEmergencyAlert,
			Data: map[string]any{"message": "help"},
		})
	}
	if got := len(drain(a)); got != 2 {
		t.Fatalf("expected 2 deliveries before the limit, got %d", got)
	}

	h.HandleInbound(sender, Message{
		Type: TypeEmergencyAlert,
		Data: map[string]any{"message": "help again"},
	})

	msg := recv(t, sender)
	if msg.Type != TypeError {
		t.Fatalf("expected rate-limit error, got %q", msg.Type)
	}
	errData := msg.Data.(ErrorData)
	if errData.RetryAfterSeconds < 1 {
		t.Errorf("expected wait hint, got %d", errData.RetryAfterSeconds)
	}
	if types := drain(a); len(types) != 0 {
		t.Errorf("rate-limited event must not be delivered, got %v", types)
	}
}

func TestUserStatusSelfOnly(t *testing.T) {
	h := newTestHub(t)
	u1 := connect(h, "U1")
	u2 := connect(h, "U2")
	drain(u1)
	drain(u2)

	// U1 naming U2 is an authorization error regardless of payload
	// validity: dropped, nothing echoed, nothing broadcast.
	h.HandleInbound(u1, Message{
		Type: TypeUserStatus,
		Data: map[string]any{"userId": "U2", "status": "offline"},
	})

	if _, ok := h.table.Get("U2"); !ok {
		t.Error("U2 must remain online")
	}
	if types := drain(u1); len(types) != 0 {
		t.Errorf("authorization failure must not be echoed, got %v", types)
	}
	if types := drain(u2); len(types) != 0 {
		t.Errorf("no broadcast expected, got %v", types)
	}
}

func TestUserStatusSelfFlip(t *testing.T) {
	h := newTestHub(t)
	u1 := connect(h, "U1")
	u2 := connect(h, "U2")
	drain(u1)
	drain(u2)

	h.HandleInbound(u1, Message{
		Type: TypeUserStatus,
		Data: map[string]any{"userId": "U1", "status": "offline"},
	})

	if _, ok := h.table.Get("U1"); ok {
		t.Error("U1 should be unreachable while offline")
	}
	if h.table.Count() != 2 {
		t.Error("explicit offline must retain the presence entry")
	}
	msg := recv(t, u2)
	if msg.Type != TypeUserOffline {
		t.Errorf("expected %q broadcast, got %q", TypeUserOffline, msg.Type)
	}

	h.HandleInbound(u1, Message{
		Type: TypeUserStatus,
		Data: map[string]any{"userId": "U1", "status": "online"},
	})
	msg = recv(t, u2)
	if msg.Type != TypeUserOnline {
		t.Errorf("expected %q broadcast, got %q", TypeUserOnline, msg.Type)
	}
}

func TestOfflineRecipientSkippedInFanout(t *testing.T) {
	h := newTestHub(t)
	sender := connect(h, "sender")
	a := connect(h, "A")
	drain(sender)
	drain(a)

	h.table.SetOnline("A", false)

	report := h.Relay("sender", TypeGroupMessage, map[string]any{
		"message":    "hi",
		"recipients": []string{"A"},
	})
	if report.Absent != 1 || report.Delivered != 0 {
		t.Errorf("report = %+v, want offline recipient counted absent", report)
	}
}

func TestRunWithContextShutdown(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancellation")
	}
}

func TestRunWithContextLifecycle(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.RunWithContext(ctx) }()

	c := NewClient(h, nil, "user-a")
	h.Register <- c

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := h.table.Get("user-a"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("registration did not reach the presence table")
		case <-time.After(10 * time.Millisecond):
		}
	}

	h.Unregister <- c
	for {
		if _, ok := h.table.Get("user-a"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("unregistration did not reach the presence table")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
