package statsdb

import "time"

// Outcome is the state of a journal entry.
type Outcome string

const (
	OutcomeStarted     Outcome = "started"
	OutcomeSucceeded   Outcome = "succeeded"
	OutcomeFailed      Outcome = "failed"
	OutcomeInterrupted Outcome = "interrupted" // started by a run that never finished it
)

// Transfer is one journal row.
type Transfer struct {
	ID            string
	ChatID        int64
	MessageID     int64
	Sender        string
	FileName      string
	Path          string
	ExpectedBytes int64
	Bytes         int64
	Checksum      string // BLAKE2b-256, hex
	Outcome       Outcome
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time // zero while started
}

// Result is what a finished transfer reports back to the journal.
type Result struct {
	Outcome  Outcome
	Path     string
	Bytes    int64
	Checksum string
	Err      error
}
