package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}

func TestJSONOutputRespectsLevel(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	_, err := initWithStdout(Config{Level: "WARN", Format: "json"}, &buf)
	require.NoError(t, err)

	Info(context.Background(), "quiet")
	ErrorWithErr(context.Background(), "loud", errors.New("boom"), "phase", "Settling")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "loud", rec["msg"])
	assert.Equal(t, "boom", rec["error"])
	assert.Equal(t, "Settling", rec["phase"])
}

func TestErrorLevel(t *testing.T) {
	restoreDefault(t)
	var buf bytes.Buffer
	_, err := initWithStdout(Config{Level: "ERROR", Format: "json"}, &buf)
	require.NoError(t, err)

	Warn(context.Background(), "ignored")
	Error(context.Background(), "stopped while holding a position", "shares", 9)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.EqualValues(t, 9, rec["shares"])
}

func TestFileOutput(t *testing.T) {
	restoreDefault(t)
	path := filepath.Join(t.TempDir(), "bot.log")
	var buf bytes.Buffer
	closer, err := initWithStdout(Config{Format: "text", File: path}, &buf)
	require.NoError(t, err)

	slog.Info("hello", "k", "v")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, buf.String(), "k=v")
}
