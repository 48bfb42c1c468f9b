package orchestration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"claimpilot/internal/llm"
)

func newTestPlanner(t *testing.T, client llm.Client) *Planner {
	t.Helper()
	p, err := NewPlanner(client, newTestRegistry(t, newTestBusiness(t)), nil)
	if err != nil {
		t.Fatalf("NewPlanner error: %v", err)
	}
	return p
}

func TestPlan_StepCeilingSkipsLLM(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []string{doneResponse(StopComplete, "should not be used")}}
	p := newTestPlanner(t, client)

	s := NewState(1, "sess", "hi", 3)
	s.StepCount = 3
	s.ToolQueue = []ToolRequest{{ToolName: "people_list"}}

	got, err := p.Plan(context.Background(), s)
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if client.callCount() != 0 {
		t.Errorf("LLM called %d times at the ceiling, want 0", client.callCount())
	}
	if got.StopReason != StopMaxSteps {
		t.Errorf("stop reason = %q, want max_steps", got.StopReason)
	}
	if !got.ExitRequested || len(got.ToolQueue) != 0 {
		t.Errorf("exit = %v queue = %d, want exit with empty queue", got.ExitRequested, len(got.ToolQueue))
	}
}

func TestPlan_Done(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []string{doneResponse(StopComplete, "All staging rows promoted.")}}
	p := newTestPlanner(t, client)

	got, err := p.Plan(context.Background(), NewState(1, "sess", "promote rows", 10))
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if !got.ExitRequested || got.StopReason != StopComplete {
		t.Errorf("exit = %v reason = %q", got.ExitRequested, got.StopReason)
	}
	if got.LastAssistantMessage() != "All staging rows promoted." {
		t.Errorf("assistant message = %q", got.LastAssistantMessage())
	}
	if len(got.ToolQueue) != 0 {
		t.Errorf("queue = %d, want 0", len(got.ToolQueue))
	}
}

func TestPlan_QueuesTool(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []string{toolResponse("people_list", "{}")}}
	p := newTestPlanner(t, client)

	got, err := p.Plan(context.Background(), NewState(1, "sess", "who is on the claim", 10))
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if len(got.ToolQueue) != 1 || got.ToolQueue[0].ToolName != "people_list" {
		t.Fatalf("queue = %+v", got.ToolQueue)
	}
	if got.StepCount != 1 {
		t.Errorf("step count = %d, want 1", got.StepCount)
	}
	if got.ExitRequested {
		t.Error("continue decision should not request exit")
	}
}

func TestPlan_UnknownToolIsFatal(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []string{toolResponse("nonexistent_tool", "{}")}}
	p := newTestPlanner(t, client)

	got, err := p.Plan(context.Background(), NewState(1, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if got.StopReason != StopError || !got.ExitRequested {
		t.Errorf("reason = %q exit = %v, want fatal error", got.StopReason, got.ExitRequested)
	}
	if len(got.Errors) != 1 || !strings.Contains(got.Errors[0], "Unknown tool: nonexistent_tool") {
		t.Errorf("errors = %v, want unknown-tool error", got.Errors)
	}
	if len(got.ToolQueue) != 0 {
		t.Error("queue must be cleared on failure")
	}
}

func TestPlan_InvalidDecisionIsFatal(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []string{"Sure, let me list the people for you."}}
	p := newTestPlanner(t, client)

	got, err := p.Plan(context.Background(), NewState(1, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if got.StopReason != StopError {
		t.Errorf("reason = %q, want error", got.StopReason)
	}
	if len(got.Errors) != 1 || !strings.Contains(got.Errors[0], "planner decision invalid") {
		t.Errorf("errors = %v", got.Errors)
	}
}

func TestPlan_CompletionFailureIsFatal(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{err: errors.New("connection refused")}
	p := newTestPlanner(t, client)

	got, err := p.Plan(context.Background(), NewState(1, "sess", "hi", 10))
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if got.StopReason != StopError || !got.ExitRequested {
		t.Errorf("reason = %q exit = %v", got.StopReason, got.ExitRequested)
	}
	if len(got.Errors) != 1 || !strings.Contains(got.Errors[0], "planner completion failed") {
		t.Errorf("errors = %v", got.Errors)
	}
}

func TestPlan_PromptLayout(t *testing.T) {
	t.Parallel()

	client := &scriptedClient{responses: []string{doneResponse(StopComplete, "done")}}
	p := newTestPlanner(t, client)

	s := NewState(1, "sess", "check rates", 10)
	s.Packet.WorldSnapshot = &WorldSnapshot{RunID: 1, RunStatus: "PROCESSING"}
	s.Messages = []llm.Message{
		{Role: llm.RoleAssistant, Content: "Calling tool people_list with arguments {}"},
		{Role: llm.RoleTool, Content: `{"count":2}`},
	}

	if _, err := p.Plan(context.Background(), s); err != nil {
		t.Fatalf("Plan error: %v", err)
	}

	req := client.request(0)
	for _, section := range []string{"## World snapshot", "## People and time", "## Memory", "## Evidence", "## Available tools"} {
		if !strings.Contains(req.System, section) {
			t.Errorf("system prompt missing section %q", section)
		}
	}
	if !strings.Contains(req.System, "- people_list") {
		t.Error("system prompt missing registered tool name")
	}
	if !strings.Contains(req.System, `"run_status":"PROCESSING"`) {
		t.Error("system prompt missing world snapshot content")
	}

	// Instruction first, then the prior transcript verbatim.
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(req.Messages))
	}
	if req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "check rates" {
		t.Errorf("first message = %+v", req.Messages[0])
	}
	if req.Messages[2].Content != `{"count":2}` {
		t.Errorf("transcript not appended verbatim: %+v", req.Messages[2])
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_schema" {
		t.Errorf("response format = %+v", req.ResponseFormat)
	}
}
