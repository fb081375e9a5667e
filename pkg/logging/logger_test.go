package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerWritesProcessAndErrorLogs(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "sess-1")
	require.NoError(t, err)
	defer logger.Close()

	require.NoError(t, logger.Info(CategoryGateway, "invoke.start", "", nil))
	require.NoError(t, logger.Error(CategoryExecutor, "invoke.fail", "boom", map[string]any{"code": "TIMEOUT"}))

	procData, err := os.ReadFile(filepath.Join(dir, "gateway.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(procData), "invoke.start")
	require.Contains(t, string(procData), "invoke.fail")

	errData, err := os.ReadFile(filepath.Join(dir, "errors.jsonl"))
	require.NoError(t, err)
	var ev Event
	lines := splitLines(errData)
	require.Len(t, lines, 1)
	require.NoError(t, json.Unmarshal(lines[0], &ev))
	require.Equal(t, "sess-1", ev.SessionID)
	require.Equal(t, LevelError, ev.Level)
}

func TestLoggerMinLevelFilters(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "sess-2")
	require.NoError(t, err)
	defer logger.Close()

	logger.SetMinLevel(LevelWarn)
	require.NoError(t, logger.Debug(CategoryQuota, "noop", "", nil))
	require.NoError(t, logger.Info(CategoryQuota, "noop", "", nil))

	data, err := os.ReadFile(filepath.Join(dir, "gateway.jsonl"))
	require.NoError(t, err)
	require.Empty(t, data)
}

func splitLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	return out
}
