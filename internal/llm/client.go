// Package llm defines the completion interface the planner consumes and an
// OpenAI-compatible HTTP provider. The orchestration engine only needs one
// capability: send a system prompt plus a message transcript and get back a
// content string. Parsing and validation stay with the caller.
package llm

import "context"

// Message is one role-tagged entry in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ResponseFormat selects the provider's structured-output mode.
type ResponseFormat struct {
	Type       string         `json:"type"` // "json_object" or "json_schema"
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

// Request is one completion call.
type Request struct {
	System         string
	Messages       []Message
	ResponseFormat *ResponseFormat
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete returns the content string of the provider's first choice.
	Complete(ctx context.Context, req Request) (string, error)
}
