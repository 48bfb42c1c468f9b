// Package checkpoint persists orchestration state between turns. Each
// conversation thread keeps exactly one row, overwritten after every node,
// so a crashed turn resumes from its latest step and a finished turn
// resumes with its full transcript.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNoCheckpoint is returned by Get when a thread has no saved state.
var ErrNoCheckpoint = errors.New("checkpoint: no saved state")

// Store is a SQLite-backed checkpoint store keyed by thread id. The
// database runs in WAL mode so a write that completed before a crash is
// never lost.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open initializes the checkpoint database at the given path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	ddl := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put saves the serialized state for a thread, replacing any previous row.
func (s *Store) Put(ctx context.Context, threadID string, state []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		threadID, string(state))
	if err != nil {
		return fmt.Errorf("failed to put checkpoint for thread %s: %w", threadID, err)
	}
	return nil
}

// Get returns the saved state for a thread, or ErrNoCheckpoint.
func (s *Store) Get(ctx context.Context, threadID string) ([]byte, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for thread %s: %w", threadID, err)
	}
	return []byte(state), nil
}

// ClearThread deletes the checkpoint for one thread. Returns the number of
// rows deleted (0 or 1).
func (s *Store) ClearThread(ctx context.Context, threadID string) (int64, error) {
	return s.clear(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
}

// ClearRun deletes every thread belonging to a run. Thread ids are
// "<runID>:<sessionID>", so the run prefix selects all of its sessions.
func (s *Store) ClearRun(ctx context.Context, runID int64) (int64, error) {
	return s.clear(ctx, `DELETE FROM checkpoints WHERE thread_id LIKE ?`, fmt.Sprintf("%d:%%", runID))
}

// ClearAll deletes every checkpoint.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	return s.clear(ctx, `DELETE FROM checkpoints`)
}

func (s *Store) clear(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.logger.Debug("checkpoints cleared", zap.Int64("deleted", n))
	return n, nil
}
