package mmp

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/coupling/pkg/optional"
	"github.com/c360/coupling/pkg/retry"
	"github.com/c360/coupling/profiler"
)

func TestNewClientWithExistingConn(t *testing.T) {
	nc := &nats.Conn{}
	c, err := NewClient("localhost:9000", WithConn(nc), WithTimeout(time.Second))
	require.NoError(t, err)
	assert.Same(t, nc, c.nc)
	assert.False(t, c.ownsConn, "a provided connection stays owned by the caller")
	assert.Equal(t, time.Second, c.timeout)

	// Close must not touch a connection the client does not own
	c.Close()
}

func TestNewClientUnreachableManager(t *testing.T) {
	cfg := retry.Config{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
	_, err := NewClient("localhost:1", WithRetryConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manager connection")
}

func TestEventToWire(t *testing.T) {
	e := profiler.Begin("macro[2]", profiler.EventSend).
		WithPort("state_out", optional.Of(3)).
		WithMessageSize(256)

	w := eventToWire(e)
	assert.Equal(t, "macro[2]", w.Instance)
	assert.Equal(t, "send", w.Type)
	assert.NotZero(t, w.StartNanos)
	require.NotNil(t, w.Port)
	assert.Equal(t, "state_out", *w.Port)
	require.NotNil(t, w.Slot)
	assert.Equal(t, 3, *w.Slot)
	require.NotNil(t, w.MessageSize)
	assert.Equal(t, 256, *w.MessageSize)
}

func TestEventToWireOmitsAbsentFields(t *testing.T) {
	w := eventToWire(profiler.Begin("macro", profiler.EventRegister))
	assert.Nil(t, w.Port)
	assert.Nil(t, w.Slot)
	assert.Nil(t, w.MessageSize)

	raw, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "port")
	assert.NotContains(t, string(raw), "slot")
	assert.NotContains(t, string(raw), "message_size")
}

func TestProfileRequestCarriesBatchID(t *testing.T) {
	req := profileRequest{
		BatchID: uuid.New().String(),
		Events:  []eventWire{eventToWire(profiler.Begin("macro", profiler.EventSend))},
	}
	raw, err := json.Marshal(req)
	require.NoError(t, err)

	var back profileRequest
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, req.BatchID, back.BatchID)
	_, err = uuid.Parse(back.BatchID)
	assert.NoError(t, err, "batch id must be a valid uuid")
	assert.Len(t, back.Events, 1)
}

func TestReplyEnvelopeDecoding(t *testing.T) {
	var reply replyEnvelope
	require.NoError(t, json.Unmarshal(
		[]byte(`{"status":"error","error":"unknown instance"}`), &reply))
	assert.Equal(t, "error", reply.Status)
	assert.Equal(t, "unknown instance", reply.Error)

	require.NoError(t, json.Unmarshal(
		[]byte(`{"status":"ok","result":{"conduits":[]}}`), &reply))
	assert.Equal(t, "ok", reply.Status)
	assert.NotEmpty(t, reply.Result)
}

func TestLogHandlerLevels(t *testing.T) {
	h := NewLogHandler(nil, "macro", slog.LevelWarn)
	ctx := context.Background()
	assert.False(t, h.Enabled(ctx, slog.LevelDebug))
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))
}

func TestLogHandlerWithAttrsCopies(t *testing.T) {
	h := NewLogHandler(nil, "macro", slog.LevelWarn)
	h2 := h.WithAttrs([]slog.Attr{slog.String("port", "state_out")})
	h3 := h2.(*LogHandler).WithGroup("instance")

	assert.Empty(t, h.attrs)
	assert.Len(t, h2.(*LogHandler).attrs, 1)
	assert.Equal(t, []string{"instance"}, h3.(*LogHandler).groups)
}
