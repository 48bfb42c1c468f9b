package orchestration

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"claimpilot/internal/llm"
	"claimpilot/internal/tools"
)

// Planner decides the next action for a turn by rendering the compiled
// context into a prompt, calling the completion provider, and validating
// the structured decision. It never mutates business data.
type Planner struct {
	client   llm.Client
	registry *tools.Registry
	schema   *jsonschema.Schema
	logger   *zap.Logger
}

// NewPlanner creates a planner bound to a completion provider and the live
// tool registry.
func NewPlanner(client llm.Client, registry *tools.Registry, logger *zap.Logger) (*Planner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	schema, err := compileDecisionSchema()
	if err != nil {
		return nil, err
	}
	return &Planner{client: client, registry: registry, schema: schema, logger: logger}, nil
}

// Plan runs one planning decision. The step ceiling is checked before
// anything else so an exhausted turn never spends another LLM call.
func (p *Planner) Plan(ctx context.Context, s State) (State, error) {
	if s.StepCount >= s.MaxSteps {
		s.StopReason = StopMaxSteps
		s.ToolQueue = nil
		s.ExitRequested = true
		p.logger.Info("step ceiling reached",
			zap.String("thread_id", s.ThreadID), zap.Int("max_steps", s.MaxSteps))
		return s, nil
	}

	system := renderSystemPrompt(s.Packet, p.registry.Names())
	messages := make([]llm.Message, 0, len(s.Messages)+1)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: s.Instruction})
	messages = append(messages, s.Messages...)

	raw, err := p.client.Complete(ctx, llm.Request{
		System:   system,
		Messages: messages,
		ResponseFormat: &llm.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: DecisionSchemaJSON(),
		},
	})
	if err != nil {
		return p.fail(s, fmt.Sprintf("planner completion failed: %v", err)), nil
	}

	decision, err := ParseDecision(raw, p.schema)
	if err != nil {
		return p.fail(s, fmt.Sprintf("planner decision invalid: %v", err)), nil
	}

	if decision.Done {
		s.Messages = append(s.Messages, llm.Message{
			Role:    llm.RoleAssistant,
			Content: decision.DraftResponse,
		})
		s.StopReason = decision.StopReason
		s.ToolQueue = nil
		s.ExitRequested = true
		return s, nil
	}

	// Hallucinated tool names are fatal: the live registry is the truth.
	for _, req := range decision.ToolRequests {
		if !p.registry.Has(req.ToolName) {
			return p.fail(s, fmt.Sprintf("Unknown tool: %s", req.ToolName)), nil
		}
	}

	s.ToolQueue = decision.ToolRequests
	s.StepCount++
	return s, nil
}

// fail marks the turn as errored. Planner failures are fatal for the turn
// and never retried silently.
func (p *Planner) fail(s State, msg string) State {
	p.logger.Warn("planner failure", zap.String("thread_id", s.ThreadID), zap.String("error", msg))
	s.StopReason = StopError
	s.Errors = append(s.Errors, msg)
	s.ToolQueue = nil
	s.ExitRequested = true
	return s
}
