package logging

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyFileRotates(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.Local)
	d, err := openDailyFile(dir, func() time.Time { return now })
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Write([]byte("first\n"))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = d.Write([]byte("second\n"))
	require.NoError(t, err)

	first, err := os.ReadFile(filepath.Join(dir, "telegram_downloader_2026-03-01.log"))
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(first))

	second, err := os.ReadFile(filepath.Join(dir, "telegram_downloader_2026-03-02.log"))
	require.NoError(t, err)
	assert.Equal(t, "second\n", string(second))
	assert.Equal(t, filepath.Join(dir, "telegram_downloader_2026-03-02.log"), d.Path())
}

func TestNewWritesEverywhere(t *testing.T) {
	dir := t.TempDir()
	d, err := OpenDailyFile(dir)
	require.NoError(t, err)
	defer d.Close()

	var stdout bytes.Buffer
	logger := New(slog.LevelInfo, &stdout, d)
	logger.Info("bot started", "chat_id", 1001)
	logger.Debug("hidden")

	data, err := os.ReadFile(d.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "bot started")
	assert.Contains(t, stdout.String(), "chat_id=1001")
	assert.NotContains(t, stdout.String(), "hidden")
}

func TestWithFloor(t *testing.T) {
	var buf bytes.Buffer
	base := New(slog.LevelDebug, &buf)
	quiet := WithFloor(base, slog.LevelWarn).With("component", "telegram")

	quiet.Info("polling")
	quiet.Warn("retrying")
	base.Info("pipeline")

	out := buf.String()
	assert.NotContains(t, out, "polling")
	assert.Contains(t, out, "retrying")
	assert.Contains(t, out, "component=telegram")
	assert.Contains(t, out, "pipeline")
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	var b strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	lines, err := Tail(path, 10)
	require.NoError(t, err)
	require.Len(t, lines, 10)
	assert.Equal(t, "line 16", lines[0])
	assert.Equal(t, "line 25", lines[9])

	short := filepath.Join(t.TempDir(), "short.log")
	require.NoError(t, os.WriteFile(short, []byte("only\n"), 0o644))
	lines, err = Tail(short, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, lines)
}

func TestTailMissing(t *testing.T) {
	_, err := Tail(filepath.Join(t.TempDir(), "nope.log"), 10)
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
