// Package tools provides the name-keyed registry of side-effecting
// capabilities the planner may invoke. Tools are registered at process
// start; resolution is a map lookup. Handlers receive a per-call store
// transaction, a run id, and an argument map, and return a JSON-friendly
// result payload.
package tools

import (
	"context"

	"claimpilot/internal/store"
)

// Handler is the signature for tool execution. All writes made through tx
// commit or roll back together with the handler's outcome.
type Handler func(ctx context.Context, tx *store.Tx, runID int64, args map[string]any) (map[string]any, error)

// Tool defines a registered capability.
type Tool struct {
	// Name is the unique identifier the planner uses.
	Name string

	// Description explains what the tool does. Rendered into the planner
	// prompt's available-tools section.
	Description string

	// Handler runs the tool.
	Handler Handler

	// Required lists argument keys that must be present.
	Required []string
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Handler == nil {
		return ErrToolHandlerNil
	}
	return nil
}
