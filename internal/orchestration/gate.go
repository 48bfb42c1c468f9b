package orchestration

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"claimpilot/internal/store"
)

// Gate recomputes the review posture of a run from the business store.
// It never consults the transcript: the gate's verdict comes only from
// what the database says right now.
type Gate struct {
	reader store.Reader
	logger *zap.Logger
}

// NewGate creates a gate evaluator.
func NewGate(reader store.Reader, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{reader: reader, logger: logger}
}

// Evaluate loads the open blocking contradictions, open blocking review
// tasks, and active decision locks for the run and derives the blocked
// flag. A run is blocked while any of the three lists is non-empty.
func (g *Gate) Evaluate(ctx context.Context, s State) (State, error) {
	contradictions, err := g.reader.ListOpenBlockingContradictions(ctx, s.RunID)
	if err != nil {
		return s, fmt.Errorf("gate: list contradictions: %w", err)
	}
	tasks, err := g.reader.ListOpenBlockingTasks(ctx, s.RunID)
	if err != nil {
		return s, fmt.Errorf("gate: list review tasks: %w", err)
	}
	locks, err := g.reader.ListActiveLocks(ctx, s.RunID)
	if err != nil {
		return s, fmt.Errorf("gate: list locks: %w", err)
	}

	blocked := len(contradictions) > 0 || len(tasks) > 0 || len(locks) > 0

	s.Gate = &GateSnapshot{
		Contradictions: contradictions,
		Tasks:          tasks,
		Locks:          locks,
		Blocked:        blocked,
	}
	s.Blocked = blocked

	g.logger.Debug("gate evaluated",
		zap.Int64("run_id", s.RunID),
		zap.Int("contradictions", len(contradictions)),
		zap.Int("tasks", len(tasks)),
		zap.Int("locks", len(locks)),
		zap.Bool("blocked", blocked))
	return s, nil
}

// HumanGate converts the gate snapshot into a review payload for a human
// operator: one required action per open item, plus the evidence gaps and,
// when the planner asked a question, the question itself.
func HumanGate(s State) State {
	gate := s.Gate
	if gate == nil {
		gate = &GateSnapshot{}
	}

	actions := make([]RequiredAction, 0, len(gate.Tasks)+len(gate.Contradictions)+len(gate.Locks))
	var missing []string
	for _, t := range gate.Tasks {
		actions = append(actions, RequiredAction{
			Action: ActionResolveTask,
			ID:     t.ID,
			Title:  t.Title,
		})
	}
	for _, c := range gate.Contradictions {
		actions = append(actions, RequiredAction{
			Action: ActionResolveContradiction,
			ID:     c.ID,
			Title:  c.Title,
		})
		if c.Kind == store.ContradictionKindMissingEvidence {
			missing = append(missing, c.Explanation)
		}
	}
	for _, l := range gate.Locks {
		actions = append(actions, RequiredAction{
			Action: ActionSupersedeLock,
			ID:     l.ID,
			Title:  l.Reason,
		})
	}

	review := ReviewPayload{
		Status:          StatusNeedsReview,
		RequiredActions: actions,
		MissingEvidence: missing,
	}
	if s.StopReason == StopAskUser {
		review.UserPrompt = s.LastAssistantMessage()
	}

	s.NeedsReview = &review
	if s.StopReason != StopAskUser {
		s.StopReason = StopBlocked
	}
	s.Blocked = true
	s.ExitRequested = true
	return s
}
