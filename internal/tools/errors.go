package tools

import "errors"

// Registry and execution errors.
var (
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolHandlerNil        = errors.New("tool handler cannot be nil")
	ErrMissingRequiredArg    = errors.New("missing required argument")
)
