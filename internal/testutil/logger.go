// Package testutil holds small helpers shared across package tests.
package testutil

import (
	"log/slog"
	"testing"
)

// NewTestLogger returns an slog logger routed through the test's own log
// buffer, so output stays attached to the test that produced it and only
// shows up on failure or under -v. The level is debug to keep everything.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
