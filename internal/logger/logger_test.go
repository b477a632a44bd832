package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
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
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run("Level_"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestInitWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "info", "text")

	Debug("hidden message")
	Info("Workflow launched", "job_id", "42")

	out := buf.String()
	assert.NotContains(t, out, "hidden message")
	assert.Contains(t, out, "Workflow launched")
	assert.Contains(t, out, "job_id=42")
}

func TestInitWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")

	With("job_id", "7").Warn("Job status", "status", "running")

	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "Job status", entry["msg"])
	assert.Equal(t, "7", entry["job_id"])
	assert.Equal(t, "running", entry["status"])
}

func TestGet_AutoInit(t *testing.T) {
	logger = nil
	assert.NotNil(t, Get())
}
