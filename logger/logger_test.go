package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONLogger(level LogLevel) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(&Config{
		Level:   level,
		Format:  JSONFormat,
		Outputs: []io.Writer{buf},
	}), buf
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"trace", TraceLevel},
		{"debug", DebugLevel},
		{"info", InfoLevel},
		{"warn", WarnLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"ERROR", ErrorLevel},
		{"fatal", FatalLevel},
		{"bogus", InfoLevel},
		{"", InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogLevel(tt.input), "level %q", tt.input)
	}
}

func TestLoggerEmitsStructuredFields(t *testing.T) {
	logger, buf := newJSONLogger(DebugLevel)

	logger.Info("token acquired",
		String("scope_key", "mail.read|mail.send"),
		Int("attempt", 2),
		Duration("elapsed", 150*time.Millisecond),
		Bool("cached", false),
	)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token acquired", entry["message"])
	assert.Equal(t, "mail.read|mail.send", entry["scope_key"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, false, entry["cached"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := newJSONLogger(WarnLevel)

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	assert.Zero(t, buf.Len())

	logger.Warn("visible")
	assert.Contains(t, buf.String(), "visible")

	assert.False(t, logger.IsLevelEnabled(DebugLevel))
	assert.True(t, logger.IsLevelEnabled(ErrorLevel))
}

func TestWithSubsystemTagsModule(t *testing.T) {
	logger, buf := newJSONLogger(InfoLevel)

	derived := logger.WithSubsystem("graph.retry")
	derived.Info("attempt failed", Err(errors.New("boom")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "graph.retry", entry["module"])
	assert.Equal(t, "boom", entry["error"])
}

func TestWithFieldsAttachesToEveryEvent(t *testing.T) {
	logger, buf := newJSONLogger(InfoLevel)

	derived := logger.WithFields(String("tenant", "contoso"))
	derived.Info("first")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "contoso", entry["tenant"])
}
