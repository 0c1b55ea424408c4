// Package state holds the process-wide operational mode.
package state

import (
	"sync/atomic"
	"time"
)

// State is the run/pause flag plus the process start time. It is never
// persisted; a restart always comes back running.
type State struct {
	paused    atomic.Bool
	startedAt time.Time
}

// New returns a running State that started at now.
func New(now time.Time) *State {
	return &State{startedAt: now}
}

// Pause stops new transfers from being admitted. It is idempotent.
func (s *State) Pause() {
	s.paused.Store(true)
}

// Resume allows new transfers again. It is idempotent.
func (s *State) Resume() {
	s.paused.Store(false)
}

// Running reports whether new transfers are admitted.
func (s *State) Running() bool {
	return !s.paused.Load()
}

// StartedAt returns the process start time.
func (s *State) StartedAt() time.Time {
	return s.startedAt
}

// Uptime is the time elapsed between start and now.
func (s *State) Uptime(now time.Time) time.Duration {
	return now.Sub(s.startedAt)
}
