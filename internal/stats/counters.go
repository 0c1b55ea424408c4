// Package stats keeps the durable download counters.
//
// The counters live in a flat JSON file that is fully rewritten after every
// mutation. A missing or unreadable file starts the process from zero; a
// failed write leaves the in-memory values authoritative.
package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// Record is the persisted counter set.
type Record struct {
	Downloads  uint64 `json:"downloads"`
	Success    uint64 `json:"success"`
	Failed     uint64 `json:"failed"`
	TotalBytes uint64 `json:"total_bytes"`
}

// Pending is the number of attempts with no recorded outcome.
func (r Record) Pending() uint64 {
	done := r.Success + r.Failed
	if done >= r.Downloads {
		return 0
	}
	return r.Downloads - done
}

// SuccessRate returns successes over finished attempts in percent.
func (r Record) SuccessRate() float64 {
	done := r.Success + r.Failed
	if done == 0 {
		return 0
	}
	return float64(r.Success) / float64(done) * 100
}

// PersistenceError reports a failure to read or write the counters file.
type PersistenceError struct {
	Op   string // "load" or "flush"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("stats: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Counters guards a Record and its backing file.
type Counters struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	rec Record
}

// Load reads the counters file at path. It never fails: a missing or
// corrupt file is logged and treated as zero, and a missing one is created.
func Load(path string, logger *slog.Logger) *Counters {
	c := &Counters{path: path, logger: logger}
	rec, err := readRecord(path)
	switch {
	case err == nil:
		c.rec = rec
		logger.Info("stats: loaded counters", "path", path,
			"downloads", rec.Downloads, "success", rec.Success,
			"failed", rec.Failed, "total_bytes", rec.TotalBytes)
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("stats: no counters file, starting from zero", "path", path)
		c.mu.Lock()
		err := c.flushLocked()
		c.mu.Unlock()
		if err != nil {
			logger.Warn("stats: failed to create counters file", "err", err)
		}
	default:
		logger.Warn("stats: counters file unreadable, starting from zero", "err", err)
	}
	return c
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, &PersistenceError{Op: "load", Path: path, Err: err}
	}
	return rec, nil
}

// Snapshot returns a copy of the current values.
func (c *Counters) Snapshot() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// Attempt counts a transfer that is about to start.
func (c *Counters) Attempt() error {
	return c.update(func(r *Record) { r.Downloads++ })
}

// Succeed counts a finished transfer of n bytes.
func (c *Counters) Succeed(n uint64) error {
	return c.update(func(r *Record) {
		r.Success++
		r.TotalBytes += n
	})
}

// Fail counts a transfer that ended with an error.
func (c *Counters) Fail() error {
	return c.update(func(r *Record) { r.Failed++ })
}

// update applies fn and flushes while holding the lock, so concurrent
// callers never interleave a read-modify-write with another flush. The
// in-memory change is kept even if the flush fails.
func (c *Counters) update(fn func(*Record)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.rec)
	return c.flushLocked()
}

func (c *Counters) flushLocked() error {
	data, err := json.MarshalIndent(c.rec, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "flush", Path: c.path, Err: err}
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return &PersistenceError{Op: "flush", Path: c.path, Err: err}
	}
	return nil
}
