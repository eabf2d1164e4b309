package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainHandlerFormatsRecord(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPlainHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.With("component", "session").WithGroup("store").Info("credential saved", "key", "auth.token")

	out := buf.String()
	assert.Contains(t, out, "INFO  credential saved")
	assert.Contains(t, out, "component=session")
	assert.Contains(t, out, "store.key=auth.token")
	assert.NotContains(t, out, "\033[")
}

func TestHandlerRedactsCredentialValues(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPlainHandler(&buf, nil))

	log.Warn("sign in failed",
		"token", "eyJhbGciOi.secret.sig",
		"refresh_token", "r-123",
		"Password", "hunter2",
		"identifier", "alice",
	)

	out := buf.String()
	assert.NotContains(t, out, "eyJhbGciOi")
	assert.NotContains(t, out, "r-123")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "token=[REDACTED]")
	assert.Contains(t, out, "identifier=alice")
}

func TestHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPlainHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	log.Info("hidden")
	log.Debug("hidden")
	log.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "ERROR shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
