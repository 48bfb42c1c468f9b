package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"claimpilot/internal/checkpoint"
	"claimpilot/internal/llm"
	"claimpilot/internal/store"
	"claimpilot/internal/tools"
)

// citationSnippetLimit caps the excerpt carried in a citation.
const citationSnippetLimit = 240

// Citation points a reply back at a retrieved evidence segment.
type Citation struct {
	SegmentID  int64   `json:"segment_id"`
	Filename   string  `json:"filename"`
	Page       int     `json:"page"`
	Row        int     `json:"row"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
	SourceType string  `json:"source_type"`
}

// TurnResult is what callers get back from a completed turn.
type TurnResult struct {
	Status      string           `json:"status"`
	Message     string           `json:"message"`
	NextActions []RequiredAction `json:"next_actions"`
	Citations   []Citation       `json:"citations"`
}

// Service is the public entrypoint for running agent turns. It owns the
// graph wiring and serializes turns per conversation thread: two turns on
// the same run/session never interleave, while distinct threads run
// concurrently.
type Service struct {
	graph       *Graph
	checkpoints *checkpoint.Store
	maxSteps    int
	logger      *zap.Logger

	mu      sync.Mutex
	threads map[string]*semaphore.Weighted
}

// NewService wires the orchestration stack over the given stores and LLM
// client.
func NewService(business *store.Local, checkpoints *checkpoint.Store, client llm.Client, registry *tools.Registry, maxSteps int, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxSteps < 0 {
		return nil, fmt.Errorf("orchestration: max steps must not be negative, got %d", maxSteps)
	}

	planner, err := NewPlanner(client, registry, logger)
	if err != nil {
		return nil, err
	}
	lanes := NewLanes(business, logger)
	executor := NewExecutor(business, registry, logger)
	gate := NewGate(business, logger)
	graph := NewGraph(lanes, planner, executor, gate, checkpoints, logger)

	return &Service{
		graph:       graph,
		checkpoints: checkpoints,
		maxSteps:    maxSteps,
		logger:      logger,
		threads:     make(map[string]*semaphore.Weighted),
	}, nil
}

// RunTurn executes one agent turn for the given run and session. Turns on
// the same thread queue behind each other; the prior thread transcript is
// restored from the checkpoint store so follow-up instructions see earlier
// exchanges.
func (svc *Service) RunTurn(ctx context.Context, runID int64, sessionID, instruction string) (TurnResult, error) {
	threadID := ThreadID(runID, sessionID)

	sem := svc.threadSemaphore(threadID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return TurnResult{}, fmt.Errorf("failed to acquire thread %s: %w", threadID, err)
	}
	defer sem.Release(1)

	s := NewState(runID, sessionID, instruction, svc.maxSteps)
	s.Messages = svc.priorTranscript(ctx, threadID)

	s, err := svc.graph.Run(ctx, s)
	if err != nil {
		return TurnResult{}, err
	}
	if s.Final == nil {
		return TurnResult{}, fmt.Errorf("turn for thread %s ended without a final payload", threadID)
	}

	result := TurnResult{
		Status:      s.Final.Status,
		Message:     s.Final.Message,
		NextActions: s.Final.NextActions,
		Citations:   extractCitations(s),
	}
	svc.logger.Info("turn finished",
		zap.String("thread_id", threadID),
		zap.String("status", result.Status),
		zap.String("stop_reason", s.StopReason),
		zap.Int("steps", s.StepCount))
	return result, nil
}

// threadSemaphore returns the weighted-1 semaphore for a thread, creating
// it on first use.
func (svc *Service) threadSemaphore(threadID string) *semaphore.Weighted {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	sem, ok := svc.threads[threadID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		svc.threads[threadID] = sem
	}
	return sem
}

// priorTranscript restores the message history from the thread's last
// checkpoint. Only the transcript carries over between turns; every other
// state field starts fresh.
func (svc *Service) priorTranscript(ctx context.Context, threadID string) []llm.Message {
	if svc.checkpoints == nil {
		return nil
	}
	data, err := svc.checkpoints.Get(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		svc.logger.Warn("failed to read checkpoint", zap.String("thread_id", threadID), zap.Error(err))
		return nil
	}
	var prev State
	if err := json.Unmarshal(data, &prev); err != nil {
		svc.logger.Warn("failed to decode checkpoint", zap.String("thread_id", threadID), zap.Error(err))
		return nil
	}
	return prev.Messages
}

// extractCitations maps the turn's final evidence pack to citations. The
// pack is used as retrieved at the last pass; segments are never fetched
// again, and blank-content items are skipped.
func extractCitations(s State) []Citation {
	pack := s.Packet.EvidencePack
	if pack == nil {
		return []Citation{}
	}
	citations := make([]Citation, 0, len(pack.Items))
	for _, item := range pack.Items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		citations = append(citations, Citation{
			SegmentID:  item.SegmentID,
			Filename:   item.Filename,
			Page:       item.PageNumber,
			Row:        item.RowNumber,
			Snippet:    truncate(content, citationSnippetLimit),
			Score:      item.Score,
			SourceType: item.SourceType,
		})
	}
	return citations
}
