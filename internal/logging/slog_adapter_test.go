// Vigilo - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigilo

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSlogHandlerLevels(t *testing.T) {
	tests := []struct {
		name      string
		slogLevel slog.Level
		zerolevel string
	}{
		{"Debug", slog.LevelDebug, "debug"},
		{"Info", slog.LevelInfo, "info"},
		{"Warn", slog.LevelWarn, "warn"},
		{"Error", slog.LevelError, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
			slogger := slog.New(NewSlogHandlerWithLogger(zl))

			slogger.Log(context.Background(), tt.slogLevel, "level test")

			output := buf.String()
			if !strings.Contains(output, `"level":"`+tt.zerolevel+`"`) {
				t.Errorf("expected level %q in output: %s", tt.zerolevel, output)
			}
		})
	}
}

func TestSlogHandlerAttrs(t *testing.T) {
	var buf bytes.Buffer

	zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
	slogger := slog.New(NewSlogHandlerWithLogger(zl))

	slogger.Info("attrs test",
		slog.String("actor", "u@x.com"),
		slog.Int("count", 3),
		slog.Bool("external", true),
	)

	output := buf.String()
	for _, want := range []string{`"actor":"u@x.com"`, `"count":3`, `"external":true`} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output: %s", want, output)
		}
	}
}

func TestSlogHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer

	zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
	slogger := slog.New(NewSlogHandlerWithLogger(zl)).With(slog.String("service", "sweeper"))

	slogger.Info("pre-configured")

	output := buf.String()
	if !strings.Contains(output, `"service":"sweeper"`) {
		t.Errorf("expected pre-configured attr in output: %s", output)
	}
}

func TestSlogHandlerWithGroup(t *testing.T) {
	var buf bytes.Buffer

	zl := zerolog.New(&buf).Level(zerolog.TraceLevel)
	slogger := slog.New(NewSlogHandlerWithLogger(zl)).WithGroup("supervisor")

	slogger.Info("grouped", slog.String("state", "running"))

	output := buf.String()
	if !strings.Contains(output, `"supervisor.state":"running"`) {
		t.Errorf("expected group-prefixed key in output: %s", output)
	}
}

func TestSlogHandlerEnabled(t *testing.T) {
	zl := zerolog.New(nil).Level(zerolog.WarnLevel)
	handler := NewSlogHandlerWithLogger(zl)

	if handler.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}
}

func TestNewSlogLogger(t *testing.T) {
	var buf bytes.Buffer

	SetLogger(zerolog.New(&buf).Logger())
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	slogger := NewSlogLogger()
	slogger.Info("through global")

	output := buf.String()
	if !strings.Contains(output, "through global") {
		t.Errorf("expected message through global logger: %s", output)
	}
}
