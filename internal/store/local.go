package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Local is the SQLite implementation of the business store. One Local is
// shared per process; SQLite serializes writers internally and every tool
// mutation runs inside its own transaction.
type Local struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// Open initializes the SQLite database at the given path, creating the
// schema when missing.
func Open(path string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Local{db: db, dbPath: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("business store opened", zap.String("path", path))
	return s, nil
}

// initialize creates the required tables.
func (s *Local) initialize() error {
	if _, err := s.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'NEW',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		original_filename TEXT NOT NULL,
		mime_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'UPLOADED'
	);
	CREATE INDEX IF NOT EXISTS idx_files_run ON files(run_id);

	CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		file_id INTEGER NOT NULL,
		source_file_id INTEGER NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		page_number INTEGER NOT NULL DEFAULT 0,
		row_number INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_segments_run ON segments(run_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS segment_fts USING fts5(content);

	CREATE TABLE IF NOT EXISTS people (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		hourly_rate REAL NOT NULL DEFAULT 0,
		rate_status TEXT NOT NULL DEFAULT 'PENDING'
	);
	CREATE INDEX IF NOT EXISTS idx_people_run ON people(run_id);

	CREATE TABLE IF NOT EXISTS person_aliases (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		person_id INTEGER NOT NULL,
		alias TEXT NOT NULL,
		confirmed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS staging_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		row_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING'
	);
	CREATE INDEX IF NOT EXISTS idx_staging_run ON staging_rows(run_id);

	CREATE TABLE IF NOT EXISTS ledger_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		account TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS contradictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'WARNING',
		status TEXT NOT NULL DEFAULT 'OPEN',
		title TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_contradictions_run ON contradictions(run_id);

	CREATE TABLE IF NOT EXISTS review_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		issue_key TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL DEFAULT 'WARNING',
		status TEXT NOT NULL DEFAULT 'OPEN'
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_run ON review_tasks(run_id);

	CREATE TABLE IF NOT EXISTS decision_locks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		issue_key TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_locks_run ON decision_locks(run_id);

	CREATE TABLE IF NOT EXISTS memory_docs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		content_md TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		call_id TEXT NOT NULL DEFAULT '',
		tool_name TEXT NOT NULL,
		arguments_json TEXT NOT NULL DEFAULT '{}',
		result_json TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Local) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Local) Path() string {
	return s.dbPath
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise, so a failing tool handler leaves no
// partial writes behind.
func (s *Local) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
