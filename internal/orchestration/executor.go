package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"claimpilot/internal/llm"
	"claimpilot/internal/store"
	"claimpilot/internal/tools"
)

// Executor runs queued tool requests one at a time. Each call executes in
// its own store transaction: success commits, failure rolls back every
// partial write. A failed tool never aborts the turn; the outcome is
// recorded and the loop continues to gate evaluation.
type Executor struct {
	store    *store.Local
	registry *tools.Registry
	logger   *zap.Logger
}

// NewExecutor creates a tool executor.
func NewExecutor(s *store.Local, registry *tools.Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{store: s, registry: registry, logger: logger}
}

// ExecuteNext pops the front request from the tool queue and dispatches it.
// Exactly one request runs per invocation, matching the planner's
// one-tool-per-decision contract.
func (e *Executor) ExecuteNext(ctx context.Context, s State) (State, error) {
	if len(s.ToolQueue) == 0 {
		return s, nil
	}
	req := s.ToolQueue[0]
	s.ToolQueue = s.ToolQueue[1:]

	callID := req.IdempotencyKey
	if callID == "" {
		callID = uuid.New().String()
	}
	argsJSON := canonicalArgs(req.Arguments)

	start := time.Now()
	var payload map[string]any
	var execErr error

	tool := e.registry.Get(req.ToolName)
	if tool == nil {
		execErr = fmt.Errorf("%w: %s", tools.ErrToolNotFound, req.ToolName)
	} else if execErr = e.registry.ValidateArgs(tool, req.Arguments); execErr == nil {
		execErr = e.store.WithTx(ctx, func(tx *store.Tx) error {
			var handlerErr error
			payload, handlerErr = tool.Handler(ctx, tx, s.RunID, req.Arguments)
			return handlerErr
		})
	}
	duration := time.Since(start)

	result := ToolResult{
		ToolName:   req.ToolName,
		CallID:     callID,
		Payload:    payload,
		Success:    execErr == nil,
		DurationMs: duration.Milliseconds(),
	}
	if execErr != nil {
		result.Error = execErr.Error()
		s.Errors = append(s.Errors, fmt.Sprintf("tool %s failed: %v", req.ToolName, execErr))
	}
	s.LastToolResult = &result

	// Paired synthetic messages so the next planning pass sees the outcome.
	s.Messages = append(s.Messages,
		llm.Message{
			Role:    llm.RoleAssistant,
			Content: fmt.Sprintf("Calling tool %s with arguments %s", req.ToolName, argsJSON),
		},
		llm.Message{
			Role:    llm.RoleTool,
			Content: resultContent(result),
		},
	)

	audit := store.ToolCall{
		RunID:         s.RunID,
		CallID:        callID,
		ToolName:      req.ToolName,
		ArgumentsJSON: argsJSON,
		ResultJSON:    resultContent(result),
		Success:       result.Success,
		DurationMs:    result.DurationMs,
	}
	if err := e.store.AppendToolCall(ctx, audit); err != nil {
		e.logger.Warn("failed to append audit log entry",
			zap.String("tool", req.ToolName), zap.Error(err))
	}

	e.logger.Info("tool executed",
		zap.String("tool", req.ToolName),
		zap.String("call_id", callID),
		zap.Bool("success", result.Success),
		zap.Duration("duration", duration))
	return s, nil
}

// canonicalArgs serializes an argument map deterministically. Go's JSON
// encoder emits map keys in sorted order, which is exactly the canonical
// form the audit log needs.
func canonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// resultContent renders a tool result for the transcript and audit log.
func resultContent(r ToolResult) string {
	if !r.Success {
		return fmt.Sprintf(`{"error": %q}`, r.Error)
	}
	data, err := json.Marshal(r.Payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}
