package lspclient

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageTypeLogLevel(t *testing.T) {
	tests := []struct {
		name string
		in   MessageType
		want slog.Level
	}{
		{"error", MessageTypeError, slog.LevelError},
		{"warning", MessageTypeWarning, slog.LevelWarn},
		{"info", MessageTypeInfo, slog.LevelInfo},
		{"log", MessageTypeLog, slog.LevelDebug},
		{"unknown defaults to info", MessageType(99), slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.LogLevel())
		})
	}
}
