package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestParseLevel verifies level names and rejection of unknown names.
func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    zapcore.Level
		wantErr bool
	}{
		{raw: "debug", want: zapcore.DebugLevel},
		{raw: " INFO ", want: zapcore.InfoLevel},
		{raw: "", want: zapcore.InfoLevel},
		{raw: "warning", want: zapcore.WarnLevel},
		{raw: "error", want: zapcore.ErrorLevel},
		{raw: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLevel(testCase.raw)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("level = %s, want %s", got, testCase.want)
			}
		})
	}
}

// TestNewSlogWritesThroughZap verifies slog records reach the zap core with
// their attributes and level filtering intact.
func TestNewSlogWritesThroughZap(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewSlog(zap.New(core), "mirror")

	logger.DebugContext(context.Background(), "hidden")
	logger.InfoContext(context.Background(), "router ready", "servers", 2)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	entry := entries[0]
	if entry.Message != "router ready" || entry.LoggerName != "mirror" {
		t.Fatalf("entry = %+v", entry.Entry)
	}
	if got := entry.ContextMap()["servers"]; got != int64(2) {
		t.Fatalf("servers field = %#v", got)
	}
}

// TestNewZapRejectsUnknownLevel verifies configuration errors surface.
func TestNewZapRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := NewZap("loud"); err == nil {
		t.Fatal("expected error")
	}
}
