package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "default config", config: nil},
		{name: "json format", config: &Config{Level: LevelInfo, Format: "json", Output: &bytes.Buffer{}}},
		{name: "text format", config: &Config{Level: LevelDebug, Format: "text", Output: &bytes.Buffer{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			assert.NotNil(t, logger)
		})
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true})

	handleLogger := logger.WithHandle(42)
	handleLogger.Info("test message")
	assert.Contains(t, buf.String(), "handle_id=42")

	buf.Reset()
	loopLogger := handleLogger.WithLoop(1)
	loopLogger.Info("loop message")
	assert.Contains(t, buf.String(), "handle_id=42")
	assert.Contains(t, buf.String(), "loop_id=1")
}

func TestLoggerWithRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true})

	requestLogger := logger.WithRequest(123, "READ")
	requestLogger.Debug("processing request")

	output := buf.String()
	assert.Contains(t, output, "request_id=123")
	assert.Contains(t, output, "op=READ")
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true})

	errorLogger := logger.WithError(errors.New("test error"))
	errorLogger.Error("operation failed")

	assert.Contains(t, buf.String(), "test error")
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true}))

	Debug("debug message", "key", "value")
	assert.Contains(t, buf.String(), "debug message")
	assert.Contains(t, buf.String(), "key=value")

	buf.Reset()
	Info("info message")
	assert.Contains(t, buf.String(), "info message")

	buf.Reset()
	Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}
