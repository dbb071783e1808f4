// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/haven-relay/config.yaml",
	"/etc/haven-relay/config.yml",
}

// ConfigPathEnvVar is the environment variable that overrides the config
// file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8090,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Auth: AuthConfig{
			Mode:               "jwt",
			JWTSecret:          "",
			VerifyURL:          "",
			VerifyTimeout:      5 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Relay: RelayConfig{
			SendBuffer:        256,
			MaxMessageSize:    64 << 10, // 64KB
			LocationPrecision: 4,
			ReadRate:          20, // messages per second per connection
			ReadBurst:         40,
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			// Alerts are the strictest window. Typing indicators the loosest.
			Emergency: RatePolicy{Window: time.Minute, Max: 5},
			Chat:      RatePolicy{Window: time.Minute, Max: 60},
			Group:     RatePolicy{Window: time.Minute, Max: 30},
			Status:    RatePolicy{Window: time.Minute, Max: 30},
			Signaling: RatePolicy{Window: time.Minute, Max: 60},
			Typing:    RatePolicy{Window: time.Minute, Max: 120},

			SweepInterval: time.Minute,
			Retention:     5 * time.Minute,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if exists)
//  3. Environment Variables: override any setting
//
// Precedence: ENV > File > Defaults.
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env vars come in as strings; convert known slice fields
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exist.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when sourced from environment variables.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps flat environment variable names to nested config paths.
// Unmapped variables are ignored so random environment noise never pollutes
// the configuration.
var envMappings = map[string]string{
	// Server
	"http_port":             "server.port",
	"http_host":             "server.host",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Auth
	"auth_mode":                 "auth.mode",
	"jwt_secret":                "auth.jwt_secret",
	"auth_verify_url":           "auth.verify_url",
	"auth_verify_timeout":       "auth.verify_timeout",
	"auth_breaker_max_failures": "auth.breaker_max_failures",
	"auth_breaker_open_timeout": "auth.breaker_open_timeout",

	// Relay
	"relay_send_buffer":        "relay.send_buffer",
	"relay_max_message_size":   "relay.max_message_size",
	"relay_location_precision": "relay.location_precision",
	"relay_read_rate":          "relay.read_rate",
	"relay_read_burst":         "relay.read_burst",
	"relay_write_wait":         "relay.write_wait",
	"relay_pong_wait":          "relay.pong_wait",

	// Rate limiting
	"rate_emergency_max":    "rate_limit.emergency.max",
	"rate_emergency_window": "rate_limit.emergency.window",
	"rate_chat_max":         "rate_limit.chat.max",
	"rate_chat_window":      "rate_limit.chat.window",
	"rate_group_max":        "rate_limit.group.max",
	"rate_group_window":     "rate_limit.group.window",
	"rate_status_max":       "rate_limit.status.max",
	"rate_status_window":    "rate_limit.status.window",
	"rate_signaling_max":    "rate_limit.signaling.max",
	"rate_signaling_window": "rate_limit.signaling.window",
	"rate_typing_max":       "rate_limit.typing.max",
	"rate_typing_window":    "rate_limit.typing.window",
	"rate_sweep_interval":   "rate_limit.sweep_interval",
	"rate_retention":        "rate_limit.retention",

	// Security
	"cors_origins":             "security.cors_origins",
	"http_rate_limit_requests": "security.rate_limit_requests",
	"http_rate_limit_window":   "security.rate_limit_window",

	// Audit
	"audit_enabled":     "audit.enabled",
	"audit_buffer_size": "audit.buffer_size",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config
// paths, e.g. HTTP_PORT -> server.port, RATE_EMERGENCY_MAX ->
// rate_limit.emergency.max. Unmapped keys return empty string and are
// skipped.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
