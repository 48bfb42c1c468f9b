package orchestration

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Decision is the schema-validated output of the planner's LLM call.
// Construct only through NewDecision or ParseDecision so the done/continue
// mutual exclusion holds everywhere downstream:
//
//   - done=true requires a stop reason and a draft response, and no tool
//     requests
//   - done=false requires at least one tool request
type Decision struct {
	Done          bool          `json:"done"`
	StopReason    string        `json:"stop_reason,omitempty"`
	DraftResponse string        `json:"draft_response,omitempty"`
	ToolRequests  []ToolRequest `json:"tool_requests"`
	Reasoning     string        `json:"reasoning"`
}

// decisionSchema is the JSON Schema the raw LLM output is validated
// against before decoding. It is also sent to providers that support
// structured output.
const decisionSchema = `{
	"type": "object",
	"required": ["done"],
	"properties": {
		"done": {"type": "boolean"},
		"stop_reason": {"type": "string"},
		"draft_response": {"type": "string"},
		"reasoning": {"type": "string"},
		"tool_requests": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["tool_name"],
				"properties": {
					"tool_name": {"type": "string"},
					"arguments": {"type": "object"},
					"idempotency_key": {"type": "string"}
				}
			}
		}
	}
}`

// DecisionSchemaJSON returns the decision schema as a generic map, suitable
// for a provider's response_format field.
func DecisionSchemaJSON() map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(decisionSchema), &doc); err != nil {
		panic(fmt.Sprintf("invalid embedded decision schema: %v", err))
	}
	return doc
}

// compileDecisionSchema compiles the embedded schema once per planner.
func compileDecisionSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(decisionSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add decision schema resource: %w", err)
	}
	schema, err := c.Compile("decision.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile decision schema: %w", err)
	}
	return schema, nil
}

// NewDecision validates the structural invariants and returns the decision.
func NewDecision(d Decision) (Decision, error) {
	if d.Done {
		if d.StopReason == "" {
			return Decision{}, fmt.Errorf("done decision requires stop_reason")
		}
		if d.DraftResponse == "" {
			return Decision{}, fmt.Errorf("done decision requires draft_response")
		}
		if len(d.ToolRequests) > 0 {
			return Decision{}, fmt.Errorf("done decision must not have tool_requests")
		}
		return d, nil
	}
	if len(d.ToolRequests) == 0 {
		return Decision{}, fmt.Errorf("continue decision requires at least one tool_request")
	}
	return d, nil
}

// ParseDecision validates raw LLM output against the decision schema and
// then against the structural invariants. Any failure is fatal for the
// turn; callers never retry silently.
func ParseDecision(raw string, schema *jsonschema.Schema) (Decision, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return Decision{}, fmt.Errorf("planner output is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Decision{}, fmt.Errorf("planner output failed schema validation: %w", err)
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, fmt.Errorf("failed to decode planner output: %w", err)
	}
	return NewDecision(d)
}
