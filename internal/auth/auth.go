// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package auth verifies bearer credentials presented at the relay
// handshake.
//
// The relay never issues tokens; it only verifies them. Two verifiers are
// provided: JWTVerifier checks HMAC-signed tokens locally, RemoteVerifier
// delegates to the external identity provider's verification endpoint
// behind a circuit breaker. Both return the subject identifier that
// becomes the connection's identity.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Credential errors. Both map to a refused handshake; the distinction
// feeds the audit trail.
var (
	// ErrMissingCredential indicates the handshake carried no bearer token.
	ErrMissingCredential = errors.New("missing bearer credential")

	// ErrInvalidCredential indicates the token failed verification.
	ErrInvalidCredential = errors.New("invalid bearer credential")
)

// Verifier validates a bearer token and returns the authenticated
// identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// BearerFromRequest extracts the bearer token from an upgrade request.
// It accepts either an Authorization header or a `token` query parameter;
// browser WebSocket clients cannot set custom headers, so the query form
// is required for them.
func BearerFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return "", ErrMissingCredential
		}
		token := strings.TrimSpace(header[len(prefix):])
		if token == "" {
			return "", ErrMissingCredential
		}
		return token, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}

	return "", ErrMissingCredential
}
