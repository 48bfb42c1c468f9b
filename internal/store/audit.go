package store

import (
	"context"
	"fmt"
)

// auditResultLimit caps the stored tool result payload. Anything longer is
// truncated; the full payload already reached the planner via the transcript.
const auditResultLimit = 2000

// AppendToolCall writes one audit-log row. It runs on the store's own
// connection, outside any tool transaction, so a rolled-back handler still
// leaves its failure on record.
func (s *Local) AppendToolCall(ctx context.Context, tc ToolCall) error {
	result := tc.ResultJSON
	if len(result) > auditResultLimit {
		result = result[:auditResultLimit]
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls (run_id, call_id, tool_name, arguments_json, result_json, success, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tc.RunID, tc.CallID, tc.ToolName, tc.ArgumentsJSON, result, tc.Success, tc.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to append tool call: %w", err)
	}
	return nil
}
