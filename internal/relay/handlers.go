// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package relay

import (
	"fmt"
	"sort"
	"time"

	"github.com/haven-safety/haven-relay/internal/audit"
	"github.com/haven-safety/haven-relay/internal/logging"
	"github.com/haven-safety/haven-relay/internal/metrics"
)

// HandleInbound processes one inbound event: validate, rate-limit, route.
// Runs on the client's reader goroutine; every gate audits its outcome.
// No failure here is fatal to the connection or the process.
func (h *Hub) HandleInbound(client *Client, msg Message) {
	identity := client.identity
	kind := msg.Type

	metrics.MessagesInbound.WithLabelValues(kind).Inc()
	h.table.Touch(identity)

	// Gate 1: validation. All field errors are echoed to the sender.
	result := h.validator.Validate(kind, payloadMap(msg.Data))
	if !result.Valid {
		metrics.ValidationFailures.WithLabelValues(kind).Inc()
		client.TrySend(TypeError, ErrorData{
			Message: "message failed validation",
			Fields:  result.Errors,
		})
		h.auditor.Record(audit.NewEvent(audit.EventValidationFailed, audit.SeverityWarning, audit.OutcomeDropped).
			WithActor(identity).
			WithAction(kind).
			WithDescription("payload failed validation").
			WithMetadata("error_count", len(result.Errors)))
		return
	}

	// Gate 2: rate limit, per (identity, kind) sliding window. A distinct
	// outcome from validation so the client can say "too fast" rather
	// than "malformed".
	decision := h.limiter.Admit(identity, kind, h.rateCfg.PolicyFor(kind))
	if !decision.Allowed {
		metrics.RateLimitRejections.WithLabelValues(kind).Inc()
		seconds := int(decision.RetryAfter.Round(time.Second) / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		client.TrySend(TypeError, ErrorData{
			Message:           fmt.Sprintf("too many %s events, retry in %ds", kind, seconds),
			RetryAfterSeconds: seconds,
		})
		h.auditor.Record(audit.NewEvent(audit.EventRateLimited, audit.SeverityWarning, audit.OutcomeDropped).
			WithActor(identity).
			WithAction(kind).
			WithDescription("rate limit exceeded"))
		return
	}

	// Gate 3: route by kind.
	started := time.Now()
	var report DeliveryReport
	switch kind {
	case TypeUserStatus:
		h.handleUserStatus(client, result.Fields)
		return // status changes produce presence broadcasts, not a report

	case TypeChatMessage:
		report = h.relayDirect(identity, kind, result.Fields)

	case TypeEmergencyAlert, TypeGroupMessage:
		report = h.relayGroup(identity, kind, result.Fields)

	case TypeVoiceCallOffer, TypeVoiceCallAnswer, TypeVoiceCallEnd,
		TypeICECandidate, TypeTypingGroup, TypeStopTypingGroup:
		report = h.relaySignaling(identity, kind, result.Fields)

	default:
		// Unreachable: the validator rejects unknown kinds.
		return
	}
	metrics.FanoutDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())

	h.auditor.Record(audit.NewEvent(audit.EventRelayed, audit.SeverityInfo, audit.OutcomeSuccess).
		WithActor(identity).
		WithAction(kind).
		WithDescription("event relayed").
		WithMetadata("requested", report.Requested).
		WithMetadata("delivered", report.Delivered).
		WithMetadata("absent", report.Absent).
		WithMetadata("dropped", report.Dropped))

	logging.Debug().
		Str("identity", identity).
		Str("action", kind).
		Int("requested", report.Requested).
		Int("delivered", report.Delivered).
		Int("absent", report.Absent).
		Int("dropped", report.Dropped).
		Msg("fan-out completed")
}

// handleUserStatus applies an explicit online/offline flip. The acting
// identity may only mutate its own entry; naming anyone else is an
// authorization error, dropped silently toward the client but audited at
// elevated severity.
func (h *Hub) handleUserStatus(client *Client, fields map[string]any) {
	identity := client.identity
	target, _ := fields["userId"].(string)
	status, _ := fields["status"].(string)

	if target != identity {
		metrics.AuthzDenials.Inc()
		h.auditor.Record(audit.NewEvent(audit.EventAuthzDenied, audit.SeverityCritical, audit.OutcomeDenied).
			WithActor(identity).
			WithAction(TypeUserStatus).
			WithDescription("identity attempted to set another identity's status").
			WithMetadata("target", target))
		return
	}

	online := status == "online"
	if !h.table.SetOnline(identity, online) {
		return
	}

	msgType := TypeUserOnline
	if !online {
		msgType = TypeUserOffline
	}
	h.broadcastExcept(identity, msgType, map[string]any{"userId": identity})

	h.auditor.Record(audit.NewEvent(audit.EventStatusChanged, audit.SeverityInfo, audit.OutcomeSuccess).
		WithActor(identity).
		WithAction(TypeUserStatus).
		WithDescription("status changed").
		WithMetadata("status", status))
}

// relayDirect delivers to the single identity named by the `to` field.
// An absent recipient is a DeliveryGap: silently dropped at this layer,
// offline persistence is the external store's concern.
func (h *Hub) relayDirect(sender, kind string, fields map[string]any) DeliveryReport {
	target, _ := fields["to"].(string)
	report := DeliveryReport{Requested: 1}

	recipient, ok := h.table.Get(target)
	if !ok {
		report.Absent = 1
		report.AbsentIdentities = []string{target}
		metrics.Deliveries.WithLabelValues(kind, "absent").Inc()
		return report
	}

	h.deliver(recipient, sender, kind, fields, &report)
	return report
}

// relayGroup delivers to an explicit recipient list, excluding the
// sender, or to everyone except the sender when no list was supplied.
func (h *Hub) relayGroup(sender, kind string, fields map[string]any) DeliveryReport {
	targets, _ := fields["recipients"].([]string)
	if len(targets) == 0 {
		return h.relayBroadcast(sender, kind, fields)
	}

	var report DeliveryReport
	for _, target := range targets {
		if target == sender {
			continue
		}
		report.Requested++

		recipient, ok := h.table.Get(target)
		if !ok {
			report.Absent++
			report.AbsentIdentities = append(report.AbsentIdentities, target)
			metrics.Deliveries.WithLabelValues(kind, "absent").Inc()
			continue
		}
		h.deliver(recipient, sender, kind, fields, &report)
	}
	return report
}

// relaySignaling delivers an ephemeral signaling event to the identity
// named by `to` when present, falling back to broadcast-all-except-sender
// for compatibility. Never persisted.
func (h *Hub) relaySignaling(sender, kind string, fields map[string]any) DeliveryReport {
	if target, ok := fields["to"].(string); ok && target != "" {
		return h.relayDirect(sender, kind, fields)
	}
	if targets, ok := fields["recipients"].([]string); ok && len(targets) > 0 {
		return h.relayGroup(sender, kind, fields)
	}
	return h.relayBroadcast(sender, kind, fields)
}

// relayBroadcast delivers to every currently-present identity except the
// sender.
func (h *Hub) relayBroadcast(sender, kind string, fields map[string]any) DeliveryReport {
	recipients := h.table.Recipients(sender)

	identities := make([]string, 0, len(recipients))
	for identity := range recipients {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	report := DeliveryReport{Requested: len(identities)}
	for _, identity := range identities {
		h.deliver(recipients[identity], sender, kind, fields, &report)
	}
	return report
}

// deliver pushes one outbound message. Non-blocking: a full recipient
// buffer converts the send into a dropped delivery.
func (h *Hub) deliver(recipient interface{ TrySend(string, any) bool }, sender, kind string, fields map[string]any, report *DeliveryReport) {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["from"] = sender

	if recipient.TrySend(kind, payload) {
		report.Delivered++
		metrics.Deliveries.WithLabelValues(kind, "delivered").Inc()
	} else {
		report.Dropped++
		metrics.Deliveries.WithLabelValues(kind, "dropped").Inc()
	}
}

// Relay exposes the routing engine for callers outside the socket path
// (tests, future server-originated notifications). It assumes fields have
// already been validated.
func (h *Hub) Relay(sender, kind string, fields map[string]any) DeliveryReport {
	switch kind {
	case TypeChatMessage:
		return h.relayDirect(sender, kind, fields)
	case TypeEmergencyAlert, TypeGroupMessage:
		return h.relayGroup(sender, kind, fields)
	default:
		return h.relaySignaling(sender, kind, fields)
	}
}
