// Package history persists terminal task outcomes to SQLite for the
// operator audit endpoint. The queue itself stays in memory; this log
// only records what already finished.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/simq/internal/queue"
	"github.com/me/simq/pkg/task"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS task_history (
	task_id       TEXT PRIMARY KEY,
	model_name    TEXT NOT NULL,
	model_version TEXT NOT NULL,
	email_address TEXT NOT NULL,
	state         TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	parameters    TEXT NOT NULL DEFAULT '{}',
	finished_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_task_history_finished_at ON task_history(finished_at)`

// Store is a SQLite-backed audit log of finished tasks.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the history database at dbPath and ensures
// the schema exists. Use ":memory:" in tests.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "history")}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTerminal appends one terminal outcome. Called from inside the
// queue's critical section, so it must not block on anything slow;
// SQLite inserts on a local file are fine. Errors are logged, never
// propagated: the audit log must not affect queue behavior.
func (s *Store) RecordTerminal(t *task.Task, state task.State, detail string, at time.Time) {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		params = []byte("{}")
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO task_history
		 (task_id, model_name, model_version, email_address, state, detail, parameters, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ModelName, t.ModelVersion, t.EmailAddress,
		string(state), detail, string(params), at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("failed to record task outcome", "task_id", t.ID, "error", err)
	}
}

// Recent returns the most recently finished tasks, newest first.
func (s *Store) Recent(limit int) ([]queue.HistoryEntry, error) {
	rows, err := s.db.Query(
		`SELECT task_id, model_name, model_version, email_address, state, detail, finished_at
		 FROM task_history ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []queue.HistoryEntry{}
	for rows.Next() {
		var e queue.HistoryEntry
		var finishedAt string
		if err := rows.Scan(&e.TaskID, &e.ModelName, &e.ModelVersion,
			&e.EmailAddress, &e.State, &e.Detail, &finishedAt); err != nil {
			return nil, err
		}
		e.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at %q: %w", finishedAt, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
