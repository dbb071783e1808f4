// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package main is the entry point for the Haven Relay server.
//
// Haven Relay keeps one authenticated WebSocket per app user, tracks who
// is online, and fans emergency alerts, chat, and call-signaling events
// out to the right recipients in real time. Delivery is best effort:
// absent or slow recipients are reported, never retried, because offline
// persistence belongs to the backing store, not to the relay.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file and
//     environment variables (Koanf v2)
//  2. Audit pipeline: buffered async audit logger over zerolog
//  3. Credential verifier: local JWT (HMAC) or remote verification
//     endpoint behind a circuit breaker
//  4. Relay hub: presence table, message validator, sliding-window rate
//     limiter and the fan-out engine
//  5. HTTP server: WebSocket gateway, health probes, presence listing
//     and Prometheus metrics
//
// Everything runs under a suture supervision tree; the relay layer and
// the API layer restart independently.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (HTTP_PORT, JWT_SECRET, AUTH_MODE, ...)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// For JWT authentication (default):
//   - JWT_SECRET: 32+ character secret for token verification
//
// For remote verification:
//   - AUTH_MODE=remote
//   - AUTH_VERIFY_URL: endpoint that validates tokens
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM: it stops
// accepting connections, sends close frames to connected clients, drains
// the audit buffer and exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/haven-safety/haven-relay/internal/api"
	"github.com/haven-safety/haven-relay/internal/audit"
	"github.com/haven-safety/haven-relay/internal/auth"
	"github.com/haven-safety/haven-relay/internal/config"
	"github.com/haven-safety/haven-relay/internal/logging"
	"github.com/haven-safety/haven-relay/internal/presence"
	"github.com/haven-safety/haven-relay/internal/ratelimit"
	"github.com/haven-safety/haven-relay/internal/relay"
	"github.com/haven-safety/haven-relay/internal/supervisor"
	"github.com/haven-safety/haven-relay/internal/supervisor/services"
	"github.com/haven-safety/haven-relay/internal/validation"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors surface through the default logger.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("version", version).
		Str("addr", cfg.Server.Addr()).
		Str("auth_mode", cfg.Auth.Mode).
		Str("environment", cfg.Server.Environment).
		Msg("Starting Haven Relay")

	// Audit pipeline. Closed last so shutdown events are still recorded.
	auditLogger := logging.WithComponent("audit")
	if !cfg.Audit.Enabled {
		auditLogger = zerolog.Nop()
	}
	auditor := audit.NewLogger(
		audit.NewLogSink(auditLogger),
		audit.Options{BufferSize: cfg.Audit.BufferSize},
	)
	defer auditor.Close()

	verifier, err := buildVerifier(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure credential verifier")
	}

	table := presence.NewTable()
	limiter := ratelimit.New(cfg.RateLimit.Retention, cfg.RateLimit.SweepInterval)
	validator := validation.New(cfg.Relay.LocationPrecision)
	hub := relay.NewHub(table, validator, limiter, auditor, cfg.Relay, cfg.RateLimit)

	handler := api.NewHandler(hub, table, verifier, auditor, cfg.Security, version)
	router := api.NewRouter(handler, cfg.Security)

	// Read/write timeouts cover the plain HTTP endpoints only; upgraded
	// WebSocket connections manage their own deadlines.
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddRelayService(hub)
	tree.AddRelayService(limiter)
	tree.AddAPIService(services.NewHTTPService(httpServer, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Haven Relay stopped gracefully")
}

// buildVerifier selects the credential verifier for the configured auth
// mode.
func buildVerifier(cfg *config.Config) (auth.Verifier, error) {
	switch cfg.Auth.Mode {
	case "jwt":
		return auth.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	case "remote":
		return auth.NewRemoteVerifier(cfg.Auth.VerifyURL, auth.RemoteOptions{
			Timeout:     cfg.Auth.VerifyTimeout,
			MaxFailures: cfg.Auth.BreakerMaxFailures,
			OpenTimeout: cfg.Auth.BreakerOpenTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}
