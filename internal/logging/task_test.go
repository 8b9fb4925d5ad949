package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)

	l, err := New(Config{Level: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewFormats(t *testing.T) {
	_, err := New(Config{Level: "info", Format: "console", Fields: map[string]any{"host": "node-1"}})
	require.NoError(t, err)
	_, err = New(Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityLevel(1))
	assert.Equal(t, zapcore.InfoLevel, VerbosityLevel(8))
	assert.Equal(t, zapcore.DebugLevel, VerbosityLevel(9))
}

func TestTaskLoggerSplitsStreams(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := NewTask(zap.NewNop(), TaskConfig{Dir: dir, TaskID: 12, Verbose: 1})
	require.NoError(t, err)

	logger.Debug("hidden detail")
	logger.Info("batch done")
	logger.Error("record 5 failed")
	require.NoError(t, closeFn())

	logText, err := os.ReadFile(filepath.Join(dir, "bibsched_task_12.log"))
	require.NoError(t, err)
	errText, err := os.ReadFile(filepath.Join(dir, "bibsched_task_12.err"))
	require.NoError(t, err)

	assert.Contains(t, string(logText), "batch done")
	assert.Contains(t, string(logText), "record 5 failed")
	assert.NotContains(t, string(logText), "hidden detail")
	assert.Contains(t, string(errText), "record 5 failed")
	assert.False(t, strings.Contains(string(errText), "batch done"))
}

func TestTaskFile(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/run/bibtask", "bibsched_task_3.pid"), TaskFile("/var/run/bibtask", 3, "pid"))
}
