package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWriterLogger_TextFormat(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LogLevelDebug).Module("audio").Module("capture")

	log.Info("capture started",
		String("engine", "abc"),
		Int("buffer_depth", 2),
		Error(errors.New("boom now")))

	line := buf.String()
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "[audio.capture] capture started")
	assert.Contains(t, line, "engine=abc")
	assert.Contains(t, line, "buffer_depth=2")
	assert.Contains(t, line, `error="boom now"`)
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestWriterLogger_FieldTypes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LogLevelDebug)

	log.Info("render stats",
		Int64("received", -3),
		Uint64("bytes", 4800),
		Bool("match", true),
		Duration("elapsed", 1500*time.Millisecond))

	line := buf.String()
	assert.Contains(t, line, "received=-3")
	assert.Contains(t, line, "bytes=4800")
	assert.Contains(t, line, "match=true")
	assert.Contains(t, line, "elapsed=1.5s")
}

func TestWriterLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   LogLevel
		logFn   func(Logger)
		visible bool
	}{
		{"debug hidden at info", LogLevelInfo, func(l Logger) { l.Debug("msg") }, false},
		{"info shown at info", LogLevelInfo, func(l Logger) { l.Info("msg") }, true},
		{"warn shown at warn", LogLevelWarn, func(l Logger) { l.Warn("msg") }, true},
		{"trace hidden at debug", LogLevelDebug, func(l Logger) { l.Trace("msg") }, false},
		{"trace shown at trace", LogLevelTrace, func(l Logger) { l.Trace("msg") }, true},
		{"error always shown", LogLevelError, func(l Logger) { l.Error("msg") }, true},
		{"explicit debug hidden at error", LogLevelError, func(l Logger) { l.Log(LogLevelDebug, "msg") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			tt.logFn(NewWriterLogger(&buf, tt.level))
			assert.Equal(t, tt.visible, buf.Len() > 0)
		})
	}
}

func TestWith_AccumulatesFieldsWithoutMutatingParent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	parent := NewWriterLogger(&buf, LogLevelInfo).Module("audio")
	child := parent.With(String("engine", "e1"))

	child.Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "engine=e1")
	assert.NotContains(t, lines[1], "engine=e1")
}

func TestWithContext_AddsTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LogLevelInfo)
	log.WithContext(WithTraceID(t.Context(), "trace-1")).Info("hello")

	assert.Contains(t, buf.String(), "trace_id=trace-1")
}

func TestCentralLogger_ModuleLevelInheritance(t *testing.T) {
	t.Parallel()

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "warn",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: false},
		ModuleLevels: map[string]string{"audio": "debug"},
	})
	require.NoError(t, err)
	defer func() { _ = cl.Close() }()

	cl.mu.RLock()
	defer cl.mu.RUnlock()
	assert.Equal(t, parseLogLevel("debug"), cl.moduleLevelLocked("audio.render"))
	assert.Equal(t, parseLogLevel("debug"), cl.moduleLevelLocked("audio"))
	assert.Equal(t, parseLogLevel("warn"), cl.moduleLevelLocked("http"))
}

func TestCentralLogger_InvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Not/AZone"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestCentralLogger_FileOutputIsJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "pcmio.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "info", FlushInterval: time.Hour},
	})
	require.NoError(t, err)

	cl.Module("audio").Info("render started", Int("depth", 3))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path) //nolint:gosec // test path from t.TempDir()
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "render started", record["msg"])
	assert.Equal(t, "audio", record["module"])
	assert.InDelta(t, 3, record["depth"], 0)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, traceLevelValue, parseLogLevel("trace"))
	assert.Equal(t, parseLogLevel("warn"), parseLogLevel("WARNING"))
	assert.Equal(t, parseLogLevel("info"), parseLogLevel("bogus"))
}
