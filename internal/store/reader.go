package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Compile-time check that Local satisfies the Reader contract.
var _ Reader = (*Local)(nil)

// GetRun returns the run row, or ErrNotFound.
func (s *Local) GetRun(ctx context.Context, runID int64) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status FROM runs WHERE id = ?`, runID)

	var r Run
	if err := row.Scan(&r.ID, &r.Name, &r.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %d: %w", runID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load run %d: %w", runID, err)
	}
	return &r, nil
}

// GetFile returns the file row, or ErrNotFound.
func (s *Local) GetFile(ctx context.Context, fileID int64) (*File, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, original_filename, mime_type, status FROM files WHERE id = ?`, fileID)

	var f File
	if err := row.Scan(&f.ID, &f.RunID, &f.OriginalFilename, &f.MimeType, &f.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("file %d: %w", fileID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load file %d: %w", fileID, err)
	}
	return &f, nil
}

// GetSegment returns the segment row, or ErrNotFound.
func (s *Local) GetSegment(ctx context.Context, segmentID int64) (*Segment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, file_id, source_file_id, content, page_number, row_number
		 FROM segments WHERE id = ?`, segmentID)

	var seg Segment
	if err := row.Scan(&seg.ID, &seg.RunID, &seg.FileID, &seg.SourceFileID,
		&seg.Content, &seg.PageNumber, &seg.RowNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("segment %d: %w", segmentID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load segment %d: %w", segmentID, err)
	}
	return &seg, nil
}

// CountFiles returns total and processed file counts for a run.
func (s *Local) CountFiles(ctx context.Context, runID int64) (FileCounts, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(status = ?), 0) FROM files WHERE run_id = ?`,
		FileStatusProcessed, runID)

	var c FileCounts
	if err := row.Scan(&c.Total, &c.Processed); err != nil {
		return FileCounts{}, fmt.Errorf("failed to count files: %w", err)
	}
	return c, nil
}

// CountPeople returns total people and pending-rate counts for a run.
func (s *Local) CountPeople(ctx context.Context, runID int64) (PeopleCounts, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(rate_status = ?), 0) FROM people WHERE run_id = ?`,
		RateStatusPending, runID)

	var c PeopleCounts
	if err := row.Scan(&c.Total, &c.PendingRates); err != nil {
		return PeopleCounts{}, fmt.Errorf("failed to count people: %w", err)
	}
	return c, nil
}

// CountStaging returns staging totals broken down by status and row type.
func (s *Local) CountStaging(ctx context.Context, runID int64) (StagingCounts, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(status = ?), 0),
		        COALESCE(SUM(status = ?), 0),
		        COALESCE(SUM(row_type = ?), 0),
		        COALESCE(SUM(row_type = ?), 0)
		 FROM staging_rows WHERE run_id = ?`,
		StagingStatusPending, StagingStatusPromoted,
		StagingRowTimesheet, StagingRowPayroll, runID)

	var c StagingCounts
	if err := row.Scan(&c.Total, &c.Pending, &c.Promoted, &c.Timesheet, &c.Payroll); err != nil {
		return StagingCounts{}, fmt.Errorf("failed to count staging rows: %w", err)
	}
	return c, nil
}

// CountAliases returns confirmed and total alias counts for a run.
func (s *Local) CountAliases(ctx context.Context, runID int64) (AliasCounts, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(confirmed), 0), COUNT(*) FROM person_aliases WHERE run_id = ?`, runID)

	var c AliasCounts
	if err := row.Scan(&c.Confirmed, &c.Total); err != nil {
		return AliasCounts{}, fmt.Errorf("failed to count aliases: %w", err)
	}
	return c, nil
}

// CountLedgerRows returns the number of ledger rows for a run.
func (s *Local) CountLedgerRows(ctx context.Context, runID int64) (int, error) {
	return s.countWhere(ctx, `SELECT COUNT(*) FROM ledger_rows WHERE run_id = ?`, runID)
}

// CountOpenContradictions counts contradictions with status OPEN, any severity.
func (s *Local) CountOpenContradictions(ctx context.Context, runID int64) (int, error) {
	return s.countWhere(ctx,
		`SELECT COUNT(*) FROM contradictions WHERE run_id = ? AND status = 'OPEN'`, runID)
}

// CountOpenTasks counts review tasks with status OPEN, any severity.
func (s *Local) CountOpenTasks(ctx context.Context, runID int64) (int, error) {
	return s.countWhere(ctx,
		`SELECT COUNT(*) FROM review_tasks WHERE run_id = ? AND status = 'OPEN'`, runID)
}

// CountActiveLocks counts active decision locks.
func (s *Local) CountActiveLocks(ctx context.Context, runID int64) (int, error) {
	return s.countWhere(ctx,
		`SELECT COUNT(*) FROM decision_locks WHERE run_id = ? AND active = 1`, runID)
}

func (s *Local) countWhere(ctx context.Context, query string, runID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, runID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return n, nil
}

// ListPeople returns a run's people ordered by name ascending. The order is
// part of the contract: the anchor lane and its budget trimming depend on it.
func (s *Local) ListPeople(ctx context.Context, runID int64) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, name, role, hourly_rate, rate_status
		 FROM people WHERE run_id = ? ORDER BY name ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.RunID, &p.Name, &p.Role, &p.HourlyRate, &p.RateStatus); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// ListMemoryDocs returns a run's memory documents in insertion order.
func (s *Local) ListMemoryDocs(ctx context.Context, runID int64) ([]MemoryDoc, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, path, content_md, content_hash
		 FROM memory_docs WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory docs: %w", err)
	}
	defer rows.Close()

	var docs []MemoryDoc
	for rows.Next() {
		var d MemoryDoc
		if err := rows.Scan(&d.ID, &d.RunID, &d.Path, &d.ContentMD, &d.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan memory doc: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ListOpenBlockingContradictions returns open, blocking-severity
// contradictions ordered by id.
func (s *Local) ListOpenBlockingContradictions(ctx context.Context, runID int64) ([]Contradiction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, kind, severity, status, title, explanation
		 FROM contradictions
		 WHERE run_id = ? AND status = 'OPEN' AND severity = 'BLOCKING'
		 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contradictions: %w", err)
	}
	defer rows.Close()

	var out []Contradiction
	for rows.Next() {
		var c Contradiction
		if err := rows.Scan(&c.ID, &c.RunID, &c.Kind, &c.Severity, &c.Status, &c.Title, &c.Explanation); err != nil {
			return nil, fmt.Errorf("failed to scan contradiction: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListOpenBlockingTasks returns open, blocking-severity review tasks ordered by id.
func (s *Local) ListOpenBlockingTasks(ctx context.Context, runID int64) ([]ReviewTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, issue_key, title, description, severity, status
		 FROM review_tasks
		 WHERE run_id = ? AND status = 'OPEN' AND severity = 'BLOCKING'
		 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review tasks: %w", err)
	}
	defer rows.Close()

	var out []ReviewTask
	for rows.Next() {
		var t ReviewTask
		if err := rows.Scan(&t.ID, &t.RunID, &t.IssueKey, &t.Title, &t.Description, &t.Severity, &t.Status); err != nil {
			return nil, fmt.Errorf("failed to scan review task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListActiveLocks returns active decision locks ordered by id.
func (s *Local) ListActiveLocks(ctx context.Context, runID int64) ([]DecisionLock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, issue_key, reason, active
		 FROM decision_locks WHERE run_id = ? AND active = 1 ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decision locks: %w", err)
	}
	defer rows.Close()

	var out []DecisionLock
	for rows.Next() {
		var l DecisionLock
		if err := rows.Scan(&l.ID, &l.RunID, &l.IssueKey, &l.Reason, &l.Active); err != nil {
			return nil, fmt.Errorf("failed to scan decision lock: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// RecentToolCalls returns the most recent audit rows for a run, newest first.
func (s *Local) RecentToolCalls(ctx context.Context, runID int64, limit int) ([]ToolCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, call_id, tool_name, arguments_json, result_json, success, duration_ms, created_at
		 FROM tool_calls WHERE run_id = ? ORDER BY id DESC LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var tc ToolCall
		var created string
		if err := rows.Scan(&tc.ID, &tc.RunID, &tc.CallID, &tc.ToolName,
			&tc.ArgumentsJSON, &tc.ResultJSON, &tc.Success, &tc.DurationMs, &created); err != nil {
			return nil, fmt.Errorf("failed to scan tool call: %w", err)
		}
		tc.CreatedAt = parseSQLiteTime(created)
		out = append(out, tc)
	}
	return out, rows.Err()
}

// SearchSegments runs a full-text query against the segment index and
// returns hits best-first by bm25 rank. Hits are raw: the caller maps each
// segment id back to its row and drops ids that no longer resolve. Free-form
// instruction text is not valid FTS5 syntax, so each term is quoted and the
// terms are OR-combined.
func (s *Local) SearchSegments(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, bm25(segment_fts) FROM segment_fts
		 WHERE segment_fts MATCH ? ORDER BY bm25(segment_fts) LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search segments: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.SegmentID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ftsQuery converts free-form text into an FTS5 MATCH expression.
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// parseSQLiteTime handles the formats SQLite emits for DATETIME defaults.
func parseSQLiteTime(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
