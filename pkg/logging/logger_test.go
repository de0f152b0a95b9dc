package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"upper case", "ERROR", slog.LevelError},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level")
	}
	if logger == Default() {
		t.Error("Default() returned the same instance twice")
	}
}

func TestWithSessionAddsAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info").WithSession("sess-1")
	logger.Info("selection stored", "stage", "doctor")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["session_id"] != "sess-1" {
		t.Fatalf("expected session_id attribute, got %v", line["session_id"])
	}
	if line["stage"] != "doctor" {
		t.Fatalf("expected stage attribute, got %v", line["stage"])
	}
}

func TestDiscardDropsInfo(t *testing.T) {
	if Discard().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("Discard() should not enable info")
	}
}
