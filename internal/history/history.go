// Package history persists completed tracked commands to SQLite. Recording
// is best effort: a storage failure is logged and never fails an execution.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL,
	command     TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	exit_code   INTEGER,
	started_at  TIMESTAMP NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session_id);
CREATE TABLE IF NOT EXISTS schema_meta (
	version INTEGER NOT NULL
);
`

// Entry is one recorded command.
type Entry struct {
	ID         int64
	SessionID  string
	Command    string
	Outcome    string
	ExitCode   *int
	StartedAt  time.Time
	DurationMs int64
}

// Store wraps a SQLite database of executed commands. Safe for concurrent
// use from multiple goroutines; WAL mode plus a busy timeout keeps multiple
// processes from tripping over each other.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: schema: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_meta LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec("INSERT INTO schema_meta (version) VALUES (?)", SchemaVersion); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: init version: %w", err)
		}
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("history: read version: %w", err)
	}

	return &Store{db: db}, nil
}

// Record inserts one completed command.
func (s *Store) Record(e Entry) error {
	var exitCode interface{}
	if e.ExitCode != nil {
		exitCode = *e.ExitCode
	}
	_, err := s.db.Exec(
		`INSERT INTO commands (session_id, command, outcome, exit_code, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Command, e.Outcome, exitCode, e.StartedAt.UTC(), e.DurationMs)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns the n most recently started commands, newest first.
func (s *Store) Recent(n int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, command, outcome, exit_code, started_at, duration_ms
		 FROM commands ORDER BY started_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var exitCode sql.NullInt64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Command, &e.Outcome, &exitCode, &e.StartedAt, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			e.ExitCode = &code
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
