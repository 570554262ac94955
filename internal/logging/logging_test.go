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
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	logger := New("error", "text")
	require.NotNil(t, logger)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")
	logger.Info("scan finished", "alerted", 2)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scan finished", line["msg"])
	assert.Equal(t, float64(2), line["alerted"])
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.False(t, logger.Enabled(context.Background(), slog.LevelError))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestID(ctx))
}

func TestL_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewWithWriter(&buf, "info", "json"))
	ctx = WithRequestID(ctx, "req-abc")

	L(ctx).Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-abc", line["request_id"])
}

func TestFromContext_Default(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}
