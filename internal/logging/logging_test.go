package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanoutLevels(t *testing.T) {
	var info, debug bytes.Buffer
	h := newFanout(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("run", "r1").WithGroup("sync")

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger.Debug("planned", "actions", 3)
	logger.Info("done", "failed", 0)

	assert.NotContains(t, info.String(), "planned")
	assert.Contains(t, info.String(), "run=r1")
	assert.Contains(t, info.String(), "sync.failed=0")
	assert.Contains(t, debug.String(), "sync.actions=3")
	assert.Contains(t, debug.String(), "done")
}

func TestStampWriter(t *testing.T) {
	var out bytes.Buffer
	w := newStampWriter(&out)
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	n, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	_, err = w.Write([]byte("ond\ntail"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "line=1 time=2026-01-02T03:04:05Z first", lines[0])
	assert.Equal(t, "line=2 time=2026-01-02T03:04:05Z second", lines[1])
	assert.Equal(t, "line=3 time=2026-01-02T03:04:05Z tail", lines[2])
}

func TestNewWithFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "timewsync.log")

	l, err := New(Options{Console: &console, File: path})
	require.NoError(t, err)

	l.Debug("debug only in file", "id", "2024-01.data")
	l.Info("sync", "op", "upload")
	require.NoError(t, l.Close())

	assert.NotContains(t, console.String(), "debug only in file")
	assert.Contains(t, console.String(), "upload")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "line=1")
	assert.Contains(t, string(data), "debug only in file")
	assert.Contains(t, string(data), "op=upload")
}

func TestNewQuiet(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Options{Console: &console, Quiet: true})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
	assert.NoError(t, l.Close())
}
