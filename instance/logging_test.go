package instance

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeeHandlerDeliversToAllEnabledHandlers(t *testing.T) {
	var local, remote bytes.Buffer
	tee := newTeeHandler(
		slog.NewTextHandler(&local, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&remote, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(tee)

	logger.Info("routine progress")
	logger.Warn("something odd", "port", "s_in")

	assert.Contains(t, local.String(), "routine progress")
	assert.Contains(t, local.String(), "something odd")
	assert.NotContains(t, remote.String(), "routine progress",
		"info stays below the remote handler's level")
	assert.Contains(t, remote.String(), "something odd")
	assert.Contains(t, remote.String(), "port=s_in")
}

func TestTeeHandlerEnabled(t *testing.T) {
	tee := newTeeHandler(
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	ctx := context.Background()
	assert.False(t, tee.Enabled(ctx, slog.LevelInfo))
	assert.True(t, tee.Enabled(ctx, slog.LevelWarn))
	assert.True(t, tee.Enabled(ctx, slog.LevelError))
}

func TestTeeHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	tee := newTeeHandler(
		slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger := slog.New(tee).With("instance", "macro")

	logger.Info("connected")
	require.Contains(t, buf.String(), "instance=macro")
}
