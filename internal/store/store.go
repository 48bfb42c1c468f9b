// Package store provides the SQLite-backed business store for claim runs.
// A run is one claim-preparation workspace: its files, extracted segments,
// people, payroll/timesheet staging, ledger rows, contradictions, review
// tasks, decision locks, memory documents, and the agent tool-call log.
//
// The orchestration engine consumes the store through the Reader interface
// (pure queries) and mutates it only through per-tool-call transactions
// (see Tx). The audit log is written outside tool transactions so failed
// calls still leave a record.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Run status values.
const (
	RunStatusNew        = "NEW"
	RunStatusProcessing = "PROCESSING"
	RunStatusReady      = "READY"
	RunStatusArchived   = "ARCHIVED"
	// RunStatusUnknown is never stored; it marks a snapshot built for a
	// run that does not exist.
	RunStatusUnknown = "UNKNOWN"
)

// File status values.
const (
	FileStatusUploaded  = "UPLOADED"
	FileStatusProcessed = "PROCESSED"
	FileStatusFailed    = "FAILED"
)

// Person rate status values.
const (
	RateStatusSet     = "SET"
	RateStatusPending = "PENDING"
)

// Staging row types and statuses.
const (
	StagingRowTimesheet = "timesheet"
	StagingRowPayroll   = "payroll"

	StagingStatusPending  = "PENDING"
	StagingStatusPromoted = "PROMOTED"
	StagingStatusRejected = "REJECTED"
)

// Severity values shared by contradictions and review tasks.
const (
	SeverityBlocking = "BLOCKING"
	SeverityWarning  = "WARNING"
)

// Contradiction and review task statuses.
const (
	StatusOpen     = "OPEN"
	StatusResolved = "RESOLVED"
)

// ContradictionKindMissingEvidence marks contradictions that can only be
// resolved by supplying additional source material.
const ContradictionKindMissingEvidence = "missing_evidence"

// Run is one claim-preparation workspace.
type Run struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// File is an uploaded source document.
type File struct {
	ID               int64  `json:"id"`
	RunID            int64  `json:"run_id"`
	OriginalFilename string `json:"original_filename"`
	MimeType         string `json:"mime_type"`
	Status           string `json:"status"`
}

// Segment is an extracted, searchable slice of a file.
type Segment struct {
	ID           int64  `json:"id"`
	RunID        int64  `json:"run_id"`
	FileID       int64  `json:"file_id"`
	SourceFileID int64  `json:"source_file_id"`
	Content      string `json:"content"`
	PageNumber   int    `json:"page_number"`
	RowNumber    int    `json:"row_number"`
}

// Person is a claimed worker on a run.
type Person struct {
	ID         int64   `json:"id"`
	RunID      int64   `json:"run_id"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	HourlyRate float64 `json:"hourly_rate"`
	RateStatus string  `json:"rate_status"`
}

// StagingRow is an imported timesheet or payroll row awaiting promotion.
type StagingRow struct {
	ID      int64  `json:"id"`
	RunID   int64  `json:"run_id"`
	RowType string `json:"row_type"`
	Status  string `json:"status"`
}

// Contradiction records conflicting evidence discovered on a run.
type Contradiction struct {
	ID          int64  `json:"id"`
	RunID       int64  `json:"run_id"`
	Kind        string `json:"kind"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
}

// ReviewTask is a human follow-up item.
type ReviewTask struct {
	ID          int64  `json:"id"`
	RunID       int64  `json:"run_id"`
	IssueKey    string `json:"issue_key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
}

// DecisionLock pins a resolved issue against re-litigation. While a lock is
// active the run cannot finalize without superseding it.
type DecisionLock struct {
	ID       int64  `json:"id"`
	RunID    int64  `json:"run_id"`
	IssueKey string `json:"issue_key"`
	Reason   string `json:"reason"`
	Active   bool   `json:"active"`
}

// MemoryDoc is a persisted agent memory document.
type MemoryDoc struct {
	ID          int64  `json:"id"`
	RunID       int64  `json:"run_id"`
	Path        string `json:"path"`
	ContentMD   string `json:"content_md"`
	ContentHash string `json:"content_hash"`
}

// ToolCall is one audit-log row for an executed tool.
type ToolCall struct {
	ID            int64     `json:"id"`
	RunID         int64     `json:"run_id"`
	CallID        string    `json:"call_id"`
	ToolName      string    `json:"tool_name"`
	ArgumentsJSON string    `json:"arguments_json"`
	ResultJSON    string    `json:"result_json"`
	Success       bool      `json:"success"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchHit is one full-text match against the segment index. Score is the
// bm25 rank: lower is more relevant, and results arrive best-first.
type SearchHit struct {
	SegmentID int64
	Score     float64
}

// FileCounts groups the per-run file tallies for the world snapshot.
type FileCounts struct {
	Total     int
	Processed int
}

// PeopleCounts groups the per-run people tallies.
type PeopleCounts struct {
	Total        int
	PendingRates int
}

// StagingCounts groups the per-run staging tallies.
type StagingCounts struct {
	Total     int
	Pending   int
	Promoted  int
	Timesheet int
	Payroll   int
}

// AliasCounts groups the per-run alias tallies.
type AliasCounts struct {
	Confirmed int
	Total     int
}

// Reader is the read-only surface the orchestration engine consumes. Every
// method is scoped to a run and safe to call against a run that does not
// exist (counts come back zero, lists empty, GetRun returns ErrNotFound).
type Reader interface {
	GetRun(ctx context.Context, runID int64) (*Run, error)
	GetFile(ctx context.Context, fileID int64) (*File, error)
	GetSegment(ctx context.Context, segmentID int64) (*Segment, error)

	CountFiles(ctx context.Context, runID int64) (FileCounts, error)
	CountPeople(ctx context.Context, runID int64) (PeopleCounts, error)
	CountStaging(ctx context.Context, runID int64) (StagingCounts, error)
	CountAliases(ctx context.Context, runID int64) (AliasCounts, error)
	CountLedgerRows(ctx context.Context, runID int64) (int, error)
	CountOpenContradictions(ctx context.Context, runID int64) (int, error)
	CountOpenTasks(ctx context.Context, runID int64) (int, error)
	CountActiveLocks(ctx context.Context, runID int64) (int, error)

	ListPeople(ctx context.Context, runID int64) ([]Person, error)
	ListMemoryDocs(ctx context.Context, runID int64) ([]MemoryDoc, error)
	ListOpenBlockingContradictions(ctx context.Context, runID int64) ([]Contradiction, error)
	ListOpenBlockingTasks(ctx context.Context, runID int64) ([]ReviewTask, error)
	ListActiveLocks(ctx context.Context, runID int64) ([]DecisionLock, error)

	RecentToolCalls(ctx context.Context, runID int64, limit int) ([]ToolCall, error)
	SearchSegments(ctx context.Context, query string, limit int) ([]SearchHit, error)
}
