package orchestration

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"claimpilot/internal/store"
)

// Lane build limits.
const (
	recentOutcomeLimit  = 5
	outcomeSummaryLimit = 120
	memorySnippetLimit  = 200
	evidenceHitLimit    = 10
)

// evidenceMethodFTS tags evidence packs built from the full-text index.
const evidenceMethodFTS = "fts"

// Lanes builds the four context-packet lanes from the business store. Every
// builder is a pure read: it fills exactly one lane and passes the rest of
// the inbound packet through. A run that does not exist degrades to an
// empty lane so the loop stays schedulable.
type Lanes struct {
	reader store.Reader
	logger *zap.Logger
}

// NewLanes creates the lane builders.
func NewLanes(reader store.Reader, logger *zap.Logger) *Lanes {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lanes{reader: reader, logger: logger}
}

// LoadWorldSnapshot fills the world-snapshot lane with current run counts
// and the last few tool outcomes.
func (l *Lanes) LoadWorldSnapshot(ctx context.Context, s State) (State, error) {
	run, err := l.reader.GetRun(ctx, s.RunID)
	if errors.Is(err, store.ErrNotFound) {
		s.Packet.WorldSnapshot = &WorldSnapshot{RunID: s.RunID, RunStatus: store.RunStatusUnknown}
		return s, nil
	}
	if err != nil {
		return s, err
	}

	files, err := l.reader.CountFiles(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	people, err := l.reader.CountPeople(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	staging, err := l.reader.CountStaging(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	ledger, err := l.reader.CountLedgerRows(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	contradictions, err := l.reader.CountOpenContradictions(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	tasks, err := l.reader.CountOpenTasks(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	locks, err := l.reader.CountActiveLocks(ctx, s.RunID)
	if err != nil {
		return s, err
	}

	calls, err := l.reader.RecentToolCalls(ctx, s.RunID, recentOutcomeLimit)
	if err != nil {
		return s, err
	}
	outcomes := make([]ToolOutcome, 0, len(calls))
	for _, tc := range calls {
		outcomes = append(outcomes, ToolOutcome{
			Name:      tc.ToolName,
			Success:   tc.Success,
			Summary:   truncate(tc.ResultJSON, outcomeSummaryLimit),
			Timestamp: tc.CreatedAt,
		})
	}

	s.Packet.WorldSnapshot = &WorldSnapshot{
		RunID:              s.RunID,
		RunStatus:          run.Status,
		FileCount:          files.Total,
		FilesProcessed:     files.Processed,
		PeopleCount:        people.Total,
		PendingRates:       people.PendingRates,
		OpenContradictions: contradictions,
		OpenTasks:          tasks,
		ActiveLocks:        locks,
		StagingTotal:       staging.Total,
		StagingPending:     staging.Pending,
		StagingPromoted:    staging.Promoted,
		LedgerCount:        ledger,
		LastToolOutcomes:   outcomes,
	}
	return s, nil
}

// BuildAnchorLane fills the people/time anchor lane. People arrive from the
// store sorted by name ascending, which keeps trimming and tests stable.
func (l *Lanes) BuildAnchorLane(ctx context.Context, s State) (State, error) {
	people, err := l.reader.ListPeople(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	anchors := make([]PersonAnchor, 0, len(people))
	for _, p := range people {
		anchors = append(anchors, PersonAnchor{
			PersonID:   p.ID,
			Name:       p.Name,
			Role:       p.Role,
			HourlyRate: p.HourlyRate,
			RateStatus: p.RateStatus,
		})
	}

	aliases, err := l.reader.CountAliases(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	staging, err := l.reader.CountStaging(ctx, s.RunID)
	if err != nil {
		return s, err
	}

	s.Packet.PeopleTimeAnchor = &PeopleTimeAnchor{
		People:               anchors,
		AliasConfirmed:       aliases.Confirmed,
		AliasTotal:           aliases.Total,
		TimesheetStagingRows: staging.Timesheet,
		PayrollStagingRows:   staging.Payroll,
	}
	return s, nil
}

// RetrieveMemory fills the memory-summaries lane in insertion order.
func (l *Lanes) RetrieveMemory(ctx context.Context, s State) (State, error) {
	docs, err := l.reader.ListMemoryDocs(ctx, s.RunID)
	if err != nil {
		return s, err
	}
	entries := make([]MemoryEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, MemoryEntry{
			MemoryID:    d.ID,
			Path:        d.Path,
			Snippet:     truncate(d.ContentMD, memorySnippetLimit),
			ContentHash: d.ContentHash,
		})
	}
	s.Packet.MemorySummaries = &MemorySummaries{Entries: entries}
	return s, nil
}

// RetrieveEvidencePack fills the evidence lane from full-text retrieval. A
// blank instruction short-circuits to an empty pack without touching the
// index. A hit whose segment row vanished between indexing and retrieval is
// dropped, not an error; drops are counted and logged.
func (l *Lanes) RetrieveEvidencePack(ctx context.Context, s State) (State, error) {
	query := strings.TrimSpace(s.Instruction)
	if query == "" {
		s.Packet.EvidencePack = &EvidencePack{Items: []EvidenceItem{}, RetrievalMethod: evidenceMethodFTS}
		return s, nil
	}

	hits, err := l.reader.SearchSegments(ctx, s.Instruction, evidenceHitLimit)
	if err != nil {
		return s, err
	}

	items := make([]EvidenceItem, 0, len(hits))
	dropped := 0
	for _, hit := range hits {
		seg, err := l.reader.GetSegment(ctx, hit.SegmentID)
		if errors.Is(err, store.ErrNotFound) {
			dropped++
			continue
		}
		if err != nil {
			return s, err
		}
		if seg.RunID != s.RunID {
			continue
		}

		item := EvidenceItem{
			SegmentID:    seg.ID,
			Content:      seg.Content,
			SourceFileID: seg.SourceFileID,
			PageNumber:   seg.PageNumber,
			RowNumber:    seg.RowNumber,
			Score:        hit.Score,
		}
		if file, err := l.reader.GetFile(ctx, seg.FileID); err == nil {
			item.Filename = file.OriginalFilename
			item.SourceType = file.MimeType
		}
		items = append(items, item)
	}
	if dropped > 0 {
		l.logger.Debug("dropped stale evidence hits",
			zap.Int64("run_id", s.RunID), zap.Int("dropped", dropped))
	}

	s.Packet.EvidencePack = &EvidencePack{
		Items:           items,
		QueryUsed:       s.Instruction,
		RetrievalMethod: evidenceMethodFTS,
	}
	return s, nil
}

// truncate clips s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
