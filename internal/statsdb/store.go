// Package statsdb keeps a SQLite journal of transfers.
//
// The journal complements the JSON counters: it records each transfer with
// its file, size and checksum, and lets a restarted process find transfers
// that were cut short by a crash.
package statsdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed transfer journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the SQLite database at path and initialises the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statsdb: open %q: %w", path, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("statsdb: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS daemon (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  start_time_unix INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transfers (
  id TEXT PRIMARY KEY,
  chat_id INTEGER NOT NULL,
  message_id INTEGER NOT NULL,
  sender TEXT NOT NULL DEFAULT '',
  file_name TEXT NOT NULL DEFAULT '',
  path TEXT NOT NULL DEFAULT '',
  expected_bytes INTEGER NOT NULL DEFAULT 0,
  bytes INTEGER NOT NULL DEFAULT 0,
  checksum TEXT NOT NULL DEFAULT '',
  outcome TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  started_unix INTEGER NOT NULL,
  finished_unix INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS transfers_started ON transfers (started_unix);`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("statsdb: init schema: %w", err)
	}
	return nil
}

// SetDaemonStartTime records the daemon start time (upsert, id=1).
func (s *Store) SetDaemonStartTime(t time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO daemon (id, start_time_unix) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET start_time_unix = excluded.start_time_unix`,
		t.Unix(),
	)
	if err != nil {
		return fmt.Errorf("statsdb: set daemon start time: %w", err)
	}
	return nil
}

// GetDaemonStartTime returns the stored daemon start time.
func (s *Store) GetDaemonStartTime() (time.Time, error) {
	var unix int64
	err := s.db.QueryRow(`SELECT start_time_unix FROM daemon WHERE id = 1`).Scan(&unix)
	if err != nil {
		return time.Time{}, fmt.Errorf("statsdb: get daemon start time: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// Begin inserts a started row for t. t.ID and t.StartedAt must be set.
func (s *Store) Begin(ctx context.Context, t Transfer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transfers
		 (id, chat_id, message_id, sender, file_name, expected_bytes, outcome, started_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ChatID, t.MessageID, t.Sender, t.FileName, t.ExpectedBytes,
		string(OutcomeStarted), t.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("statsdb: begin transfer %s: %w", t.ID, err)
	}
	return nil
}

// Finish closes the row for id with the given result.
func (s *Store) Finish(ctx context.Context, id string, r Result, finishedAt time.Time) error {
	var errText string
	if r.Err != nil {
		errText = r.Err.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers
		 SET outcome = ?, path = ?, bytes = ?, checksum = ?, error = ?, finished_unix = ?
		 WHERE id = ?`,
		string(r.Outcome), r.Path, r.Bytes, r.Checksum, errText, finishedAt.Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("statsdb: finish transfer %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("statsdb: finish transfer %s: no such transfer", id)
	}
	return nil
}

// MarkInterrupted turns every row still in the started state into an
// interrupted one and returns how many rows changed. It must be called
// before the first Begin of the current run.
func (s *Store) MarkInterrupted(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE transfers SET outcome = ?, finished_unix = ? WHERE outcome = ?`,
		string(OutcomeInterrupted), now.Unix(), string(OutcomeStarted),
	)
	if err != nil {
		return 0, fmt.Errorf("statsdb: mark interrupted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("statsdb: mark interrupted: %w", err)
	}
	return int(n), nil
}

// CountByOutcome returns the number of rows per outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[Outcome]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM transfers GROUP BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("statsdb: count transfers: %w", err)
	}
	defer rows.Close()

	out := make(map[Outcome]int)
	for rows.Next() {
		var o string
		var n int
		if err := rows.Scan(&o, &n); err != nil {
			return nil, fmt.Errorf("statsdb: scan count: %w", err)
		}
		out[Outcome(o)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statsdb: iterate counts: %w", err)
	}
	return out, nil
}

// Recent returns up to limit transfers, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Transfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, message_id, sender, file_name, path,
		        expected_bytes, bytes, checksum, outcome, error,
		        started_unix, finished_unix
		 FROM transfers ORDER BY started_unix DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("statsdb: query transfers: %w", err)
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var outcome string
		var started, finished int64
		if err := rows.Scan(&t.ID, &t.ChatID, &t.MessageID, &t.Sender, &t.FileName, &t.Path,
			&t.ExpectedBytes, &t.Bytes, &t.Checksum, &outcome, &t.Error,
			&started, &finished); err != nil {
			return nil, fmt.Errorf("statsdb: scan transfer: %w", err)
		}
		t.Outcome = Outcome(outcome)
		t.StartedAt = time.Unix(started, 0)
		if finished != 0 {
			t.FinishedAt = time.Unix(finished, 0)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statsdb: iterate transfers: %w", err)
	}
	return out, nil
}
