// Package history records every nt invocation in a SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	command     TEXT    NOT NULL,
	args        TEXT    NOT NULL,
	mode        TEXT    NOT NULL,
	total       INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL,
	status      TEXT    NOT NULL,
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS executions_at ON executions(at);
`

// Entry is one recorded execution.
type Entry struct {
	ID       int64         `json:"id"`
	RunID    string        `json:"run_id"`
	Command  string        `json:"command"`
	Args     string        `json:"args"`
	Mode     string        `json:"mode"`
	Total    uint64        `json:"total"`
	Duration time.Duration `json:"duration"`
	Status   string        `json:"status"`
	At       time.Time     `json:"at"`
}

// Store is an open history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, errors.Join(fmt.Errorf("create history schema: %w", err), db.Close())
	}
	return &Store{db: db}, nil
}

// Record appends e. Empty RunID and zero At are filled in. It returns the
// stored entry.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.RunID == "" {
		e.RunID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if e.Status == "" {
		e.Status = "ok"
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (run_id, command, args, mode, total, duration_ns, status, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID, e.Command, e.Args, e.Mode, int64(e.Total), int64(e.Duration), e.Status, e.At.UnixNano())
	if err != nil {
		return e, fmt.Errorf("record execution: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, fmt.Errorf("record execution: %w", err)
	}
	return e, nil
}

// List returns up to limit entries, newest first. A limit below 1 returns
// everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, command, args, mode, total, duration_ns, status, at
		 FROM executions ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var total, dur, at int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Command, &e.Args, &e.Mode, &total, &dur, &e.Status, &at); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Total = uint64(total)
		e.Duration = time.Duration(dur)
		e.At = time.Unix(0, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
