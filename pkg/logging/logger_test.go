package logging

import (
	"context"
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
		{"error level", "error", slog.LevelError},
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

func TestComponent(t *testing.T) {
	logger := Default().Component("gateway")
	if logger == nil || logger.Logger == nil {
		t.Fatal("expected component logger to be usable")
	}
	logger.Info("test message", "key", "value")

	var nilLogger *Logger
	child := nilLogger.Component("fallback")
	if child == nil {
		t.Fatal("expected nil receiver to fall back to default logger")
	}
}
