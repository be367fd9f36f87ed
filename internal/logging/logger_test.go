package logging

import (
	"bytes"
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
		{"", slog.LevelWarn},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		minLevel  string
		logLevel  slog.Level
		shouldLog bool
	}{
		{"debug allowed at debug", "debug", slog.LevelDebug, true},
		{"debug blocked at info", "info", slog.LevelDebug, false},
		{"info blocked by default", "", slog.LevelInfo, false},
		{"warn allowed by default", "", slog.LevelWarn, true},
		{"warn blocked at error", "error", slog.LevelWarn, false},
		{"error allowed at error", "error", slog.LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tt.minLevel, FormatText)
			require.NoError(t, err)

			logger.Log(t.Context(), tt.logLevel, "test message")

			if tt.shouldLog {
				assert.Contains(t, buf.String(), "test message")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", FormatJSON)
	require.NoError(t, err)

	logger.With("task_id", "A").Info("committed", "revision", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "committed", rec["msg"])
	assert.Equal(t, "A", rec["task_id"])
	assert.Equal(t, float64(3), rec["revision"])
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
