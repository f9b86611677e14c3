package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNew_Levels(t *testing.T) {
	ctx := context.Background()
	assert.True(t, New("debug", "text").Enabled(ctx, slog.LevelDebug))
	assert.False(t, New("error", "text").Enabled(ctx, slog.LevelInfo))
	assert.NotNil(t, New("info", "json"))
}

func TestL_AddsRequestAndCorrelationIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithCorrelationID(ctx, "tx_abc")
	L(ctx).Info("intercepted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-123", line["request_id"])
	assert.Equal(t, "tx_abc", line["correlation_id"])
	assert.Equal(t, "intercepted", line["msg"])
}

func TestContextAccessorsDefault(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))
	assert.Empty(t, CorrelationID(ctx))
	assert.Equal(t, slog.Default(), FromContext(ctx))
	assert.NotNil(t, L(ctx))
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("ignored") })
}
