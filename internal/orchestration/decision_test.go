package orchestration

import (
	"strings"
	"testing"
)

func TestNewDecision_Done(t *testing.T) {
	t.Parallel()

	_, err := NewDecision(Decision{Done: true, StopReason: StopComplete, DraftResponse: "All staged rows promoted."})
	if err != nil {
		t.Fatalf("valid done decision rejected: %v", err)
	}
}

func TestNewDecision_DoneInvariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		d    Decision
	}{
		{"missing stop_reason", Decision{Done: true, DraftResponse: "x"}},
		{"missing draft_response", Decision{Done: true, StopReason: StopComplete}},
		{"tools on done", Decision{Done: true, StopReason: StopComplete, DraftResponse: "x",
			ToolRequests: []ToolRequest{{ToolName: "people_list"}}}},
		{"continue without tools", Decision{Done: false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewDecision(tc.d); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewDecision_Continue(t *testing.T) {
	t.Parallel()

	d, err := NewDecision(Decision{Done: false, ToolRequests: []ToolRequest{{ToolName: "people_list"}}})
	if err != nil {
		t.Fatalf("valid continue decision rejected: %v", err)
	}
	if len(d.ToolRequests) != 1 {
		t.Errorf("tool requests = %d, want 1", len(d.ToolRequests))
	}
}

func TestParseDecision(t *testing.T) {
	t.Parallel()

	schema, err := compileDecisionSchema()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	raw := `{"done": false, "reasoning": "need the people first",
		"tool_requests": [{"tool_name": "people_list", "arguments": {}}]}`
	d, err := ParseDecision(raw, schema)
	if err != nil {
		t.Fatalf("ParseDecision error: %v", err)
	}
	if d.Done {
		t.Error("done = true, want false")
	}
	if d.ToolRequests[0].ToolName != "people_list" {
		t.Errorf("tool = %q", d.ToolRequests[0].ToolName)
	}
}

func TestParseDecision_NotJSON(t *testing.T) {
	t.Parallel()

	schema, err := compileDecisionSchema()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	_, err = ParseDecision("I think we should list the people.", schema)
	if err == nil || !strings.Contains(err.Error(), "not valid JSON") {
		t.Fatalf("expected JSON error, got %v", err)
	}
}

func TestParseDecision_SchemaViolation(t *testing.T) {
	t.Parallel()

	schema, err := compileDecisionSchema()
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}

	// done must be a boolean.
	_, err = ParseDecision(`{"done": "yes"}`, schema)
	if err == nil || !strings.Contains(err.Error(), "schema validation") {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestDecisionSchemaJSON(t *testing.T) {
	t.Parallel()

	doc := DecisionSchemaJSON()
	if doc["type"] != "object" {
		t.Errorf("schema type = %v, want object", doc["type"])
	}
}
