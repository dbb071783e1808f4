// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/haven-safety/haven-relay/internal/logging"
)

// RemoteVerifier delegates token verification to the external identity
// provider's verification endpoint. A circuit breaker turns a failing
// provider into fast refusals instead of a pile-up of slow handshakes.
type RemoteVerifier struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[string]
}

// verifyResponse is the identity provider's verification reply.
type verifyResponse struct {
	Subject string `json:"sub"`
	Active  bool   `json:"active"`
}

// RemoteOptions tunes the verifier's HTTP client and circuit breaker.
type RemoteOptions struct {
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// NewRemoteVerifier creates a verifier calling the given verification URL.
func NewRemoteVerifier(url string, opts RemoteOptions) *RemoteVerifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "identity-provider",
		Timeout: opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("identity provider circuit breaker state changed")
		},
		// A refused token is a definitive answer from a healthy provider,
		// not a provider fault.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidCredential)
		},
	}

	return &RemoteVerifier{
		url:     url,
		client:  &http.Client{Timeout: opts.Timeout},
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Verify implements Verifier. An invalid token is a clean refusal and
// does not trip the breaker; only transport and provider errors do.
func (v *RemoteVerifier) Verify(ctx context.Context, token string) (string, error) {
	subject, err := v.breaker.Execute(func() (string, error) {
		return v.callProvider(ctx, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: identity provider unavailable", ErrInvalidCredential)
		}
		return "", err
	}
	return subject, nil
}

// callProvider performs one verification round trip.
func (v *RemoteVerifier) callProvider(ctx context.Context, token string) (string, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", fmt.Errorf("failed to encode verification request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", ErrInvalidCredential
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var vr verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&vr); err != nil {
		return "", fmt.Errorf("failed to decode verification response: %w", err)
	}
	if !vr.Active || vr.Subject == "" {
		return "", ErrInvalidCredential
	}
	return vr.Subject, nil
}
