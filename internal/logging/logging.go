// Package logging sets up the process logger: slog text lines written to
// stdout and to a log file that rotates daily.
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const filePrefix = "telegram_downloader_"

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DailyFile is an io.Writer appending to <dir>/telegram_downloader_<date>.log.
// The file is reopened when the local date changes.
type DailyFile struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
}

// OpenDailyFile creates dir if needed and opens today's file.
func OpenDailyFile(dir string) (*DailyFile, error) {
	return openDailyFile(dir, time.Now)
}

func openDailyFile(dir string, now func() time.Time) (*DailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", err)
	}
	d := &DailyFile{dir: dir, now: now}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(d.now()); err != nil {
		return nil, err
	}
	return d, nil
}

// PathFor returns the log file path for the day containing t.
func (d *DailyFile) PathFor(t time.Time) string {
	return filepath.Join(d.dir, filePrefix+t.Format("2006-01-02")+".log")
}

// Path returns today's log file path.
func (d *DailyFile) Path() string {
	return d.PathFor(d.now())
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateLocked(d.now()); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

func (d *DailyFile) rotateLocked(t time.Time) error {
	day := t.Format("2006-01-02")
	if d.file != nil && day == d.day {
		return nil
	}
	f, err := os.OpenFile(d.PathFor(t), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open log file: %w", err)
	}
	if d.file != nil {
		d.file.Close()
	}
	d.file = f
	d.day = day
	return nil
}

// Close closes the current file.
func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// New returns a text logger writing to every w at level.
func New(level slog.Level, w ...io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(io.MultiWriter(w...), &slog.HandlerOptions{Level: level}))
}

// WithFloor returns a logger that shares logger's output but drops records
// below floor. It keeps chatty subsystems such as the transport at warnings.
func WithFloor(logger *slog.Logger, floor slog.Level) *slog.Logger {
	return slog.New(&floorHandler{Handler: logger.Handler(), floor: floor})
}

type floorHandler struct {
	slog.Handler
	floor slog.Level
}

func (h *floorHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.floor && h.Handler.Enabled(ctx, l)
}

func (h *floorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &floorHandler{Handler: h.Handler.WithAttrs(attrs), floor: h.floor}
}

func (h *floorHandler) WithGroup(name string) slog.Handler {
	return &floorHandler{Handler: h.Handler.WithGroup(name), floor: h.floor}
}

// Tail returns the last n lines of the file at path.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logging: open %s: %w", path, err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("logging: read %s: %w", path, err)
	}
	return ring, nil
}
