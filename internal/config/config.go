// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

// Package config holds all relay configuration loaded from defaults, an
// optional YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file (config.yaml)
//  3. Environment Variables: override any setting
//
// Config is immutable after Load() and safe for concurrent read access.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Relay     RelayConfig     `koanf:"relay"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Security  SecurityConfig  `koanf:"security"`
	Audit     AuditConfig     `koanf:"audit"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// Environment Variables:
//   - HTTP_PORT: listen port (default: 8090)
//   - HTTP_HOST: listen host (default: 0.0.0.0)
//   - HTTP_READ_TIMEOUT / HTTP_WRITE_TIMEOUT / HTTP_SHUTDOWN_TIMEOUT
//   - ENVIRONMENT: development or production
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"required,min=1,max=65535"`
	Host            string        `koanf:"host" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"min=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"min=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
	Environment     string        `koanf:"environment" validate:"oneof=development production"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig holds credential verification settings.
//
// Mode selects the verifier:
//   - jwt: verify HMAC-signed JWTs locally using JWTSecret
//   - remote: POST the token to VerifyURL and trust the returned identity
//
// Environment Variables:
//   - AUTH_MODE, JWT_SECRET, AUTH_VERIFY_URL, AUTH_VERIFY_TIMEOUT
//   - AUTH_BREAKER_MAX_FAILURES, AUTH_BREAKER_OPEN_TIMEOUT
type AuthConfig struct {
	Mode          string        `koanf:"mode" validate:"oneof=jwt remote"`
	JWTSecret     string        `koanf:"jwt_secret"`
	VerifyURL     string        `koanf:"verify_url" validate:"omitempty,url"`
	VerifyTimeout time.Duration `koanf:"verify_timeout" validate:"min=0"`

	// Circuit breaker for the remote verifier.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout" validate:"min=0"`
}

// RelayConfig holds WebSocket relay settings.
//
// Environment Variables:
//   - RELAY_SEND_BUFFER: per-connection outbound queue size
//   - RELAY_MAX_MESSAGE_SIZE: inbound frame size limit in bytes
//   - RELAY_LOCATION_PRECISION: coordinate rounding precision (0-6)
//   - RELAY_READ_RATE / RELAY_READ_BURST: per-connection flood guard
//   - RELAY_WRITE_WAIT / RELAY_PONG_WAIT: socket deadlines
type RelayConfig struct {
	SendBuffer        int           `koanf:"send_buffer" validate:"min=1"`
	MaxMessageSize    int64         `koanf:"max_message_size" validate:"min=512"`
	LocationPrecision int           `koanf:"location_precision" validate:"min=0,max=6"`
	ReadRate          float64       `koanf:"read_rate" validate:"min=1"`
	ReadBurst         int           `koanf:"read_burst" validate:"min=1"`
	WriteWait         time.Duration `koanf:"write_wait" validate:"min=0"`
	PongWait          time.Duration `koanf:"pong_wait" validate:"min=0"`
}

// RatePolicy is a sliding-window admission policy for one event kind.
type RatePolicy struct {
	Window time.Duration `koanf:"window" validate:"min=1s"`
	Max    int           `koanf:"max" validate:"min=1"`
}

// RateLimitConfig holds per-kind sliding-window policies and sweeper tuning.
//
// Environment Variables:
//   - RATE_EMERGENCY_MAX / RATE_EMERGENCY_WINDOW
//   - RATE_CHAT_MAX / RATE_CHAT_WINDOW
//   - RATE_GROUP_MAX / RATE_GROUP_WINDOW
//   - RATE_STATUS_MAX / RATE_STATUS_WINDOW
//   - RATE_SIGNALING_MAX / RATE_SIGNALING_WINDOW
//   - RATE_TYPING_MAX / RATE_TYPING_WINDOW
//   - RATE_SWEEP_INTERVAL / RATE_RETENTION
type RateLimitConfig struct {
	Emergency RatePolicy `koanf:"emergency"`
	Chat      RatePolicy `koanf:"chat"`
	Group     RatePolicy `koanf:"group"`
	Status    RatePolicy `koanf:"status"`
	Signaling RatePolicy `koanf:"signaling"`
	Typing    RatePolicy `koanf:"typing"`

	SweepInterval time.Duration `koanf:"sweep_interval" validate:"min=1s"`
	Retention     time.Duration `koanf:"retention" validate:"min=1s"`
}

// SecurityConfig holds HTTP-surface protections.
//
// Environment Variables:
//   - CORS_ORIGINS: comma-separated allowed origins
//   - HTTP_RATE_LIMIT_REQUESTS / HTTP_RATE_LIMIT_WINDOW
type SecurityConfig struct {
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`
}

// AuditConfig holds audit trail settings.
//
// Environment Variables:
//   - AUDIT_ENABLED, AUDIT_BUFFER_SIZE
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size" validate:"min=1"`
}

// LoggingConfig holds log output settings.
//
// Environment Variables:
//   - LOG_LEVEL, LOG_FORMAT, LOG_CALLER
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// validate is the shared struct validator. Struct tags cover range and enum
// checks; cross-field rules live in Validate below.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid configuration: field %s failed rule %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return c.validateAuth()
}

// validateAuth enforces mode-dependent auth requirements that struct tags
// cannot express.
func (c *Config) validateAuth() error {
	switch c.Auth.Mode {
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when AUTH_MODE=jwt")
		}
		if c.Server.Environment == "production" && len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
	case "remote":
		if c.Auth.VerifyURL == "" {
			return fmt.Errorf("AUTH_VERIFY_URL is required when AUTH_MODE=remote")
		}
		if !strings.HasPrefix(c.Auth.VerifyURL, "http://") && !strings.HasPrefix(c.Auth.VerifyURL, "https://") {
			return fmt.Errorf("AUTH_VERIFY_URL must be an http(s) URL")
		}
	}
	return nil
}

// PolicyFor returns the sliding-window policy for an inbound event kind.
// Unknown kinds fall back to the chat policy, the most common shape.
func (c *RateLimitConfig) PolicyFor(kind string) RatePolicy {
	switch kind {
	case "emergency-alert":
		return c.Emergency
	case "chat-message":
		return c.Chat
	case "group-message":
		return c.Group
	case "user-status":
		return c.Status
	case "voice-call-offer", "voice-call-answer", "voice-call-end", "ice-candidate":
		return c.Signaling
	case "typing-group", "stop-typing-group":
		return c.Typing
	default:
		return c.Chat
	}
}
