package store

import (
	"database/sql"
	"fmt"
)

// Tx is the write surface handed to tool handlers. All writes inside one
// handler share a single transaction; Local.WithTx commits or rolls back
// the whole set.
type Tx struct {
	tx *sql.Tx
}

// InsertRun creates a run and returns its id.
func (t *Tx) InsertRun(name, status string) (int64, error) {
	res, err := t.tx.Exec(`INSERT INTO runs (name, status) VALUES (?, ?)`, name, status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// SetRunStatus updates a run's status.
func (t *Tx) SetRunStatus(runID int64, status string) error {
	_, err := t.tx.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, runID)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// InsertFile creates a file row and returns its id.
func (t *Tx) InsertFile(runID int64, filename, mimeType, status string) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO files (run_id, original_filename, mime_type, status) VALUES (?, ?, ?, ?)`,
		runID, filename, mimeType, status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert file: %w", err)
	}
	return res.LastInsertId()
}

// InsertSegment creates a segment row and mirrors its content into the
// full-text index under the same rowid.
func (t *Tx) InsertSegment(seg Segment) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO segments (run_id, file_id, source_file_id, content, page_number, row_number)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		seg.RunID, seg.FileID, seg.SourceFileID, seg.Content, seg.PageNumber, seg.RowNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to insert segment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := t.tx.Exec(
		`INSERT INTO segment_fts (rowid, content) VALUES (?, ?)`, id, seg.Content); err != nil {
		return 0, fmt.Errorf("failed to index segment: %w", err)
	}
	return id, nil
}

// DeleteSegment removes a segment row. The FTS entry is left in place on
// purpose: retrieval must tolerate index entries whose backing row is gone.
func (t *Tx) DeleteSegment(segmentID int64) error {
	_, err := t.tx.Exec(`DELETE FROM segments WHERE id = ?`, segmentID)
	if err != nil {
		return fmt.Errorf("failed to delete segment: %w", err)
	}
	return nil
}

// InsertPerson creates a person row and returns its id.
func (t *Tx) InsertPerson(p Person) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO people (run_id, name, role, hourly_rate, rate_status) VALUES (?, ?, ?, ?, ?)`,
		p.RunID, p.Name, p.Role, p.HourlyRate, p.RateStatus)
	if err != nil {
		return 0, fmt.Errorf("failed to insert person: %w", err)
	}
	return res.LastInsertId()
}

// InsertAlias creates a person alias row.
func (t *Tx) InsertAlias(runID, personID int64, alias string, confirmed bool) error {
	_, err := t.tx.Exec(
		`INSERT INTO person_aliases (run_id, person_id, alias, confirmed) VALUES (?, ?, ?, ?)`,
		runID, personID, alias, confirmed)
	if err != nil {
		return fmt.Errorf("failed to insert alias: %w", err)
	}
	return nil
}

// InsertStagingRow creates a staging row and returns its id.
func (t *Tx) InsertStagingRow(runID int64, rowType, status string) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO staging_rows (run_id, row_type, status) VALUES (?, ?, ?)`,
		runID, rowType, status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert staging row: %w", err)
	}
	return res.LastInsertId()
}

// PromoteStagingRows marks all pending staging rows of a type as promoted
// and returns the number of rows promoted.
func (t *Tx) PromoteStagingRows(runID int64, rowType string) (int64, error) {
	res, err := t.tx.Exec(
		`UPDATE staging_rows SET status = ? WHERE run_id = ? AND row_type = ? AND status = ?`,
		StagingStatusPromoted, runID, rowType, StagingStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to promote staging rows: %w", err)
	}
	return res.RowsAffected()
}

// InsertLedgerRow creates a ledger row and returns its id.
func (t *Tx) InsertLedgerRow(runID int64, account string, amount float64) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO ledger_rows (run_id, account, amount) VALUES (?, ?, ?)`,
		runID, account, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to insert ledger row: %w", err)
	}
	return res.LastInsertId()
}

// InsertContradiction creates a contradiction row and returns its id.
func (t *Tx) InsertContradiction(c Contradiction) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO contradictions (run_id, kind, severity, status, title, explanation)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Kind, c.Severity, c.Status, c.Title, c.Explanation)
	if err != nil {
		return 0, fmt.Errorf("failed to insert contradiction: %w", err)
	}
	return res.LastInsertId()
}

// ResolveContradiction marks a contradiction resolved. Returns ErrNotFound
// when no open contradiction with that id exists on the run.
func (t *Tx) ResolveContradiction(runID, contradictionID int64) error {
	res, err := t.tx.Exec(
		`UPDATE contradictions SET status = ? WHERE id = ? AND run_id = ? AND status = ?`,
		StatusResolved, contradictionID, runID, StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to resolve contradiction: %w", err)
	}
	return requireAffected(res, "contradiction", contradictionID)
}

// InsertReviewTask creates a review task row and returns its id.
func (t *Tx) InsertReviewTask(task ReviewTask) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO review_tasks (run_id, issue_key, title, description, severity, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.RunID, task.IssueKey, task.Title, task.Description, task.Severity, task.Status)
	if err != nil {
		return 0, fmt.Errorf("failed to insert review task: %w", err)
	}
	return res.LastInsertId()
}

// ResolveReviewTask marks a review task resolved. Returns ErrNotFound when
// no open task with that id exists on the run.
func (t *Tx) ResolveReviewTask(runID, taskID int64) error {
	res, err := t.tx.Exec(
		`UPDATE review_tasks SET status = ? WHERE id = ? AND run_id = ? AND status = ?`,
		StatusResolved, taskID, runID, StatusOpen)
	if err != nil {
		return fmt.Errorf("failed to resolve review task: %w", err)
	}
	return requireAffected(res, "review task", taskID)
}

// InsertLock creates a decision lock row and returns its id.
func (t *Tx) InsertLock(l DecisionLock) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO decision_locks (run_id, issue_key, reason, active) VALUES (?, ?, ?, ?)`,
		l.RunID, l.IssueKey, l.Reason, l.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to insert decision lock: %w", err)
	}
	return res.LastInsertId()
}

// SupersedeLock deactivates a decision lock, recording the superseding
// reason. Returns ErrNotFound when no active lock with that id exists.
func (t *Tx) SupersedeLock(runID, lockID int64, reason string) error {
	res, err := t.tx.Exec(
		`UPDATE decision_locks SET active = 0, reason = ? WHERE id = ? AND run_id = ? AND active = 1`,
		reason, lockID, runID)
	if err != nil {
		return fmt.Errorf("failed to supersede lock: %w", err)
	}
	return requireAffected(res, "decision lock", lockID)
}

// UpsertMemoryDoc writes a memory document, replacing any document at the
// same path on the run. Returns the document id.
func (t *Tx) UpsertMemoryDoc(doc MemoryDoc) (int64, error) {
	if _, err := t.tx.Exec(
		`DELETE FROM memory_docs WHERE run_id = ? AND path = ?`, doc.RunID, doc.Path); err != nil {
		return 0, fmt.Errorf("failed to replace memory doc: %w", err)
	}
	res, err := t.tx.Exec(
		`INSERT INTO memory_docs (run_id, path, content_md, content_hash) VALUES (?, ?, ?, ?)`,
		doc.RunID, doc.Path, doc.ContentMD, doc.ContentHash)
	if err != nil {
		return 0, fmt.Errorf("failed to insert memory doc: %w", err)
	}
	return res.LastInsertId()
}

func requireAffected(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
