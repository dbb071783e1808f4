// Haven Relay - Real-time Presence and Alert Relay for the Haven Safety App
// Copyright 2026 Haven Safety
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/haven-safety/haven-relay

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	logger.Info().Str("identity", "user-1").Msg("connection registered")

	out := buf.String()
	if !strings.Contains(out, `"identity":"user-1"`) {
		t.Errorf("expected identity field in output, got %q", out)
	}
	if !strings.Contains(out, "connection registered") {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestInitFormats(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "debug", Format: "json", Output: &buf})
		defer Init(DefaultConfig())

		Info().Msg("hello")
		if !strings.Contains(buf.String(), `"message":"hello"`) {
			t.Errorf("expected JSON output, got %q", buf.String())
		}
	})

	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		Init(Config{Level: "debug", Format: "console", Output: &buf})
		defer Init(DefaultConfig())

		Info().Msg("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Errorf("expected console output, got %q", buf.String())
		}
	})
}

func TestContextRequestID(t *testing.T) {
	ctx := context.Background()

	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("expected empty request ID, got %q", got)
	}

	ctx = ContextWithRequestID(ctx, "req-123")
	if got := RequestIDFromContext(ctx); got != "req-123" {
		t.Errorf("expected req-123, got %q", got)
	}
}

func TestContextConnectionID(t *testing.T) {
	ctx := ContextWithConnectionID(context.Background(), "conn-abc")
	if got := ConnectionIDFromContext(ctx); got != "conn-abc" {
		t.Errorf("expected conn-abc, got %q", got)
	}
}

func TestCtxIncludesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)

	ctx := ContextWithLogger(context.Background(), logger)
	ctx = ContextWithRequestID(ctx, "req-xyz")
	ctx = ContextWithConnectionID(ctx, "conn-1")

	Ctx(ctx).Info().Msg("with context")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-xyz"`) {
		t.Errorf("expected request_id field, got %q", out)
	}
	if !strings.Contains(out, `"connection_id":"conn-1"`) {
		t.Errorf("expected connection_id field, got %q", out)
	}
}

func TestGenerateConnectionID(t *testing.T) {
	id := GenerateConnectionID()
	if len(id) != 8 {
		t.Errorf("expected 8-character connection ID, got %q", id)
	}
	if id == GenerateConnectionID() {
		t.Error("expected distinct connection IDs")
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	slogger := slog.New(NewSlogHandlerWithLogger(logger))

	slogger.Info("service started", "service", "relay-hub", "port", int64(8080))

	out := buf.String()
	if !strings.Contains(out, `"service":"relay-hub"`) {
		t.Errorf("expected service attribute, got %q", out)
	}
	if !strings.Contains(out, "service started") {
		t.Errorf("expected message, got %q", out)
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	slogger := slog.New(NewSlogHandlerWithLogger(logger)).WithGroup("relay")

	slogger.Warn("slow delivery", "target", "user-2")

	out := buf.String()
	if !strings.Contains(out, `"relay.target":"user-2"`) {
		t.Errorf("expected dotted group key, got %q", out)
	}
}
