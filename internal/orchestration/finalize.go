package orchestration

import "fmt"

// Summarize produces a deterministic one-line account of the turn. It never
// calls the LLM: summaries must be reproducible from the state alone.
func Summarize(s State) State {
	var summary string
	switch s.StopReason {
	case StopComplete:
		summary = "Turn completed."
	case StopMaxSteps:
		summary = fmt.Sprintf("Turn stopped after reaching the step limit of %d.", s.MaxSteps)
	case StopBlocked:
		summary = "Turn stopped: the run has blocking conditions awaiting review."
	case StopAskUser:
		summary = "Turn paused: the planner needs input from the user."
	case StopError:
		summary = "Turn ended with an error."
	default:
		summary = "Turn ended."
	}
	if r := s.LastToolResult; r != nil {
		if r.Success {
			summary += fmt.Sprintf(" Last tool %s succeeded.", r.ToolName)
		} else {
			summary += fmt.Sprintf(" Last tool %s failed.", r.ToolName)
		}
	}
	s.Summary = summary
	return s
}

// Finalize maps the finished turn onto one of the three terminal statuses
// and builds the outcome payload. It is the only place a status is decided.
//
// Precedence: an error or step-ceiling stop always wins; a review payload
// or blocked flag yields NEEDS_REVIEW; everything else is OK.
func Finalize(s State) State {
	final := FinalPayload{NextActions: []RequiredAction{}}

	switch {
	case s.StopReason == StopError || s.StopReason == StopMaxSteps:
		final.Status = StatusError
		if n := len(s.Errors); n > 0 {
			final.Message = s.Errors[n-1]
		} else {
			final.Message = "The turn stopped without completing."
		}

	case s.NeedsReview != nil || s.Blocked:
		final.Status = StatusNeedsReview
		if msg := s.LastAssistantMessage(); msg != "" {
			final.Message = msg
		} else {
			final.Message = "The run needs review before work can continue."
		}
		if s.NeedsReview != nil {
			final.NextActions = append(final.NextActions, s.NeedsReview.RequiredActions...)
		}

	default:
		final.Status = StatusOK
		if msg := s.LastAssistantMessage(); msg != "" {
			final.Message = msg
		} else {
			final.Message = s.Summary
		}
	}

	s.Final = &final
	return s
}
