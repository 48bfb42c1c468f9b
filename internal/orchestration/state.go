// Package orchestration drives one agent turn against a claim run: a fixed
// context-assembly pipeline, a planning decision, a bounded tool loop, a
// blocking-condition gate, and a three-way terminal outcome. The flow is a
// sequential state machine; every node takes the turn state by value and
// returns an updated copy, which keeps checkpointing a plain serialization
// of the whole state.
package orchestration

import (
	"fmt"
	"time"

	"claimpilot/internal/llm"
	"claimpilot/internal/store"
)

// StateVersion is bumped when the serialized State shape changes.
const StateVersion = 1

// Stop reasons. Empty means the turn is still planning.
const (
	StopComplete = "complete"
	StopMaxSteps = "max_steps"
	StopBlocked  = "blocked"
	StopAskUser  = "ask_user"
	StopError    = "error"
)

// Terminal statuses for a turn.
const (
	StatusOK          = "OK"
	StatusNeedsReview = "NEEDS_REVIEW"
	StatusError       = "ERROR"
)

// Required-action kinds surfaced to reviewers.
const (
	ActionResolveTask          = "RESOLVE_TASK"
	ActionResolveContradiction = "RESOLVE_CONTRADICTION"
	ActionSupersedeLock        = "SUPERSEDE_LOCK"
)

// EstimateTokens approximates a token count as serialized length divided by
// four. It is a cheap proxy, not a tokenizer, and the budget enforcement
// and its tests depend on this exact formula.
func EstimateTokens(s string) int {
	return len(s) / 4
}

// ThreadID derives the checkpoint partition key for a run/session pair.
func ThreadID(runID int64, sessionID string) string {
	return fmt.Sprintf("%d:%s", runID, sessionID)
}

// ToolOutcome is a compressed record of a recent tool call for the world
// snapshot lane.
type ToolOutcome struct {
	Name      string    `json:"name"`
	Success   bool      `json:"success"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// WorldSnapshot is the database-truth lane: run status plus entity counts.
type WorldSnapshot struct {
	RunID               int64         `json:"run_id"`
	RunStatus           string        `json:"run_status"`
	FileCount           int           `json:"file_count"`
	FilesProcessed      int           `json:"files_processed"`
	PeopleCount         int           `json:"people_count"`
	PendingRates        int           `json:"pending_rates"`
	OpenContradictions  int           `json:"open_contradictions"`
	OpenTasks           int           `json:"open_tasks"`
	ActiveLocks         int           `json:"active_locks"`
	StagingTotal        int           `json:"staging_total"`
	StagingPending      int           `json:"staging_pending"`
	StagingPromoted     int           `json:"staging_promoted"`
	LedgerCount         int           `json:"ledger_count"`
	LastToolOutcomes    []ToolOutcome `json:"last_tool_outcomes"`
}

// PersonAnchor is one person entry in the anchor lane.
type PersonAnchor struct {
	PersonID   int64   `json:"person_id"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	HourlyRate float64 `json:"hourly_rate"`
	RateStatus string  `json:"rate_status"`
}

// PeopleTimeAnchor is the always-on facts lane: people sorted by name plus
// alias and staging tallies.
type PeopleTimeAnchor struct {
	People               []PersonAnchor `json:"people"`
	AliasConfirmed       int            `json:"alias_confirmed"`
	AliasTotal           int            `json:"alias_total"`
	TimesheetStagingRows int            `json:"timesheet_staging_rows"`
	PayrollStagingRows   int            `json:"payroll_staging_rows"`
}

// MemoryEntry is one persisted memory document summary.
type MemoryEntry struct {
	MemoryID    int64  `json:"memory_id"`
	Path        string `json:"path"`
	Snippet     string `json:"snippet"`
	ContentHash string `json:"content_hash"`
}

// MemorySummaries is the memory lane, in insertion order.
type MemorySummaries struct {
	Entries []MemoryEntry `json:"entries"`
}

// EvidenceItem is one retrieved snippet with provenance.
type EvidenceItem struct {
	SegmentID    int64   `json:"segment_id"`
	Content      string  `json:"content"`
	SourceFileID int64   `json:"source_file_id"`
	Filename     string  `json:"filename"`
	PageNumber   int     `json:"page_number"`
	RowNumber    int     `json:"row_number"`
	Score        float64 `json:"score"`
	SourceType   string  `json:"source_type"`
}

// EvidencePack is the retrieval lane. Items are rank-ordered best-first,
// which is what makes tail trimming drop the least relevant hits.
type EvidencePack struct {
	Items           []EvidenceItem `json:"items"`
	QueryUsed       string         `json:"query_used"`
	RetrievalMethod string         `json:"retrieval_method"`
}

// TokenBudget holds the per-lane ceilings plus a total.
type TokenBudget struct {
	WorldSnapshot    int `json:"world_snapshot"`
	PeopleTimeAnchor int `json:"people_time_anchor"`
	MemorySummaries  int `json:"memory_summaries"`
	EvidencePack     int `json:"evidence_pack"`
	Total            int `json:"total"`
}

// DefaultTokenBudget returns the standard lane budgets.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		WorldSnapshot:    800,
		PeopleTimeAnchor: 1200,
		MemorySummaries:  1000,
		EvidencePack:     3000,
		Total:            6000,
	}
}

// ContextPacket carries the four lanes handed to the planner. Every lane is
// self-contained serializable data; nothing holds a live storage reference.
// The packet is rebuilt from the store on every pass through the loop
// because a tool call may have changed the underlying data.
type ContextPacket struct {
	WorldSnapshot    *WorldSnapshot    `json:"world_snapshot,omitempty"`
	PeopleTimeAnchor *PeopleTimeAnchor `json:"people_time_anchor,omitempty"`
	MemorySummaries  *MemorySummaries  `json:"memory_summaries,omitempty"`
	EvidencePack     *EvidencePack     `json:"evidence_pack,omitempty"`
	TokenBudget      TokenBudget       `json:"token_budget"`
	CompiledAt       *time.Time        `json:"compiled_at,omitempty"`
}

// ToolRequest is one planned tool invocation.
type ToolRequest struct {
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// ToolResult records one executed tool invocation for the next planning pass.
type ToolResult struct {
	ToolName   string         `json:"tool_name"`
	CallID     string         `json:"call_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"duration_ms"`
}

// GateSnapshot is a recomputed view of the run's blocking conditions. It is
// rebuilt from the store on every evaluation; counts are never cached.
type GateSnapshot struct {
	Contradictions []store.Contradiction `json:"contradictions"`
	Tasks          []store.ReviewTask    `json:"tasks"`
	Locks          []store.DecisionLock  `json:"locks"`
	Blocked        bool                  `json:"blocked"`
}

// RequiredAction is one reviewer step needed to unblock a run.
type RequiredAction struct {
	Action string `json:"action"`
	ID     int64  `json:"id"`
	Title  string `json:"title"`
}

// ReviewPayload is the terminal payload for a blocked or ask-user turn.
type ReviewPayload struct {
	Status          string           `json:"status"`
	RequiredActions []RequiredAction `json:"required_actions"`
	MissingEvidence []string         `json:"missing_evidence,omitempty"`
	UserPrompt      string           `json:"user_prompt,omitempty"`
}

// FinalPayload is the externally visible outcome of a turn. Only the
// finalizer writes it.
type FinalPayload struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	NextActions []RequiredAction `json:"next_actions"`
}

// State is the turn-scoped execution record threaded through every node.
type State struct {
	RunID     int64  `json:"run_id"`
	SessionID string `json:"session_id"`
	ThreadID  string `json:"thread_id"`

	Instruction string        `json:"instruction"`
	Messages    []llm.Message `json:"messages"`

	Packet         ContextPacket `json:"context_packet"`
	ToolQueue      []ToolRequest `json:"tool_queue"`
	LastToolResult *ToolResult   `json:"last_tool_result,omitempty"`

	Gate        *GateSnapshot  `json:"gate_snapshot,omitempty"`
	NeedsReview *ReviewPayload `json:"needs_review,omitempty"`

	StopReason    string   `json:"stop_reason"`
	ExitRequested bool     `json:"exit_requested"`
	Blocked       bool     `json:"blocked"`
	Errors        []string `json:"errors"`
	StepCount     int      `json:"step_count"`
	MaxSteps      int      `json:"max_steps"`

	Summary string        `json:"summary,omitempty"`
	Final   *FinalPayload `json:"final,omitempty"`

	Version int `json:"version"`
}

// NewState creates a fresh turn state.
func NewState(runID int64, sessionID, instruction string, maxSteps int) State {
	return State{
		RunID:       runID,
		SessionID:   sessionID,
		ThreadID:    ThreadID(runID, sessionID),
		Instruction: instruction,
		Packet:      ContextPacket{TokenBudget: DefaultTokenBudget()},
		MaxSteps:    maxSteps,
		Version:     StateVersion,
	}
}

// LastAssistantMessage returns the content of the most recent assistant
// message, or empty when none exists.
func (s *State) LastAssistantMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}
