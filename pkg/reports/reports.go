// Package reports keeps a log of script failures in SQLite, so script
// authors can see why their scripts stopped.
package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crystal-mush/mudscript/pkg/events"
	"github.com/crystal-mush/mudscript/pkg/scripting/assembly"
	_ "modernc.org/sqlite"
)

// Failure kinds.
const (
	KindCompile = "compile"
	KindRuntime = "runtime"
)

// Failure is one reported error.
type Failure struct {
	ID        int64
	Kind      string
	Script    string
	Execution string // Empty for compile errors
	Owner     events.ObjectRef
	Cursor    int
	Opcode    string
	Message   string
	CreatedAt time.Time
}

// NewFailure describes err. Runtime errors keep the instruction that
// failed.
func NewFailure(script, execution string, owner events.ObjectRef, err error) Failure {
	f := Failure{
		Kind:      KindCompile,
		Script:    script,
		Execution: execution,
		Owner:     owner,
		Cursor:    -1,
		Message:   err.Error(),
	}
	var rerr *assembly.RuntimeError
	if errors.As(err, &rerr) {
		f.Kind = KindRuntime
		f.Cursor = rerr.Cursor
		f.Opcode = rerr.Op
		f.Message = rerr.Err.Error()
	}
	return f
}

const schema = `
CREATE TABLE IF NOT EXISTS script_failures (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT NOT NULL,
	script       TEXT NOT NULL,
	execution_id TEXT NOT NULL DEFAULT '',
	owner        TEXT NOT NULL DEFAULT '',
	cursor       INTEGER NOT NULL DEFAULT -1,
	opcode       TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS script_failures_script ON script_failures(script, id);
`

// Store manages the SQLite database of failures.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
	now     func() time.Time
}

// Open opens a SQLite database, sets WAL mode and busy timeout, and creates
// the table.
func Open(path string, timeoutSec int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("reports: opening sqlite %s: %w", path, err)
	}
	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("reports: setting WAL mode: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000)); err != nil {
		db.Close()
		return nil, fmt.Errorf("reports: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("reports: creating schema: %w", err)
	}
	return &Store{
		db:      db,
		path:    path,
		timeout: time.Duration(timeoutSec) * time.Second,
		now:     time.Now,
	}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

// Record saves a failure and returns its id. A zero CreatedAt is set to
// the current time.
func (s *Store) Record(ctx context.Context, f Failure) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO script_failures (kind, script, execution_id, owner, cursor, opcode, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Kind, f.Script, f.Execution, string(f.Owner), f.Cursor, f.Opcode, f.Message, f.CreatedAt.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("reports: record %s: %w", f.Script, err)
	}
	return res.LastInsertId()
}

// Recent returns the latest failures, newest first. An empty script name
// returns the failures of every script.
func (s *Store) Recent(ctx context.Context, script string, limit int) ([]Failure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT id, kind, script, execution_id, owner, cursor, opcode, message, created_at
		FROM script_failures`
	var args []any
	if script != "" {
		query += " WHERE script = ?"
		args = append(args, script)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reports: recent: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var owner string
		var created int64
		if err := rows.Scan(&f.ID, &f.Kind, &f.Script, &f.Execution, &owner, &f.Cursor, &f.Opcode, &f.Message, &created); err != nil {
			return nil, fmt.Errorf("reports: recent: %w", err)
		}
		f.Owner = events.ObjectRef(owner)
		f.CreatedAt = time.Unix(0, created)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Purge removes failures older than before and returns how many were
// removed.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM script_failures WHERE created_at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("reports: purge: %w", err)
	}
	return res.RowsAffected()
}

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}
