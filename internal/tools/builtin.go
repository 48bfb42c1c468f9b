package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"claimpilot/internal/store"
)

// RegisterBuiltin installs the standard claim-run tools. Read-only tools
// query the store directly; mutating tools write through the per-call
// transaction.
func RegisterBuiltin(reg *Registry, s *store.Local) {
	reg.MustRegister(&Tool{
		Name:        "people_list",
		Description: "List the run's people with roles, hourly rates, and rate status.",
		Handler: func(ctx context.Context, _ *store.Tx, runID int64, _ map[string]any) (map[string]any, error) {
			people, err := s.ListPeople(ctx, runID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"people": people, "count": len(people)}, nil
		},
	})

	reg.MustRegister(&Tool{
		Name:        "tasks_resolve",
		Description: "Mark an open review task as resolved.",
		Required:    []string{"task_id"},
		Handler: func(ctx context.Context, tx *store.Tx, runID int64, args map[string]any) (map[string]any, error) {
			taskID, err := argInt64(args, "task_id")
			if err != nil {
				return nil, err
			}
			if err := tx.ResolveReviewTask(runID, taskID); err != nil {
				return nil, err
			}
			return map[string]any{"status": "resolved", "task_id": taskID}, nil
		},
	})

	reg.MustRegister(&Tool{
		Name:        "contradictions_resolve",
		Description: "Mark an open contradiction as resolved.",
		Required:    []string{"contradiction_id"},
		Handler: func(ctx context.Context, tx *store.Tx, runID int64, args map[string]any) (map[string]any, error) {
			id, err := argInt64(args, "contradiction_id")
			if err != nil {
				return nil, err
			}
			if err := tx.ResolveContradiction(runID, id); err != nil {
				return nil, err
			}
			return map[string]any{"status": "resolved", "contradiction_id": id}, nil
		},
	})

	reg.MustRegister(&Tool{
		Name:        "locks_supersede",
		Description: "Deactivate a decision lock, recording the superseding reason.",
		Required:    []string{"lock_id", "reason"},
		Handler: func(ctx context.Context, tx *store.Tx, runID int64, args map[string]any) (map[string]any, error) {
			lockID, err := argInt64(args, "lock_id")
			if err != nil {
				return nil, err
			}
			reason, _ := args["reason"].(string)
			if err := tx.SupersedeLock(runID, lockID, reason); err != nil {
				return nil, err
			}
			return map[string]any{"status": "superseded", "lock_id": lockID}, nil
		},
	})

	reg.MustRegister(&Tool{
		Name:        "staging_promote",
		Description: "Promote all pending staging rows of a type (timesheet or payroll).",
		Required:    []string{"row_type"},
		Handler: func(ctx context.Context, tx *store.Tx, runID int64, args map[string]any) (map[string]any, error) {
			rowType, _ := args["row_type"].(string)
			if rowType != store.StagingRowTimesheet && rowType != store.StagingRowPayroll {
				return nil, fmt.Errorf("unknown row_type %q", rowType)
			}
			n, err := tx.PromoteStagingRows(runID, rowType)
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": "promoted", "row_type": rowType, "rows": n}, nil
		},
	})

	reg.MustRegister(&Tool{
		Name:        "memory_write",
		Description: "Persist a memory document at a path, replacing any previous version.",
		Required:    []string{"path", "content"},
		Handler: func(ctx context.Context, tx *store.Tx, runID int64, args map[string]any) (map[string]any, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return nil, fmt.Errorf("path cannot be empty")
			}
			sum := sha256.Sum256([]byte(content))
			id, err := tx.UpsertMemoryDoc(store.MemoryDoc{
				RunID:       runID,
				Path:        path,
				ContentMD:   content,
				ContentHash: hex.EncodeToString(sum[:]),
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"status": "written", "memory_id": id, "path": path}, nil
		},
	})
}

// argInt64 extracts an integer argument. JSON decoding hands numbers over
// as float64, so both forms are accepted.
func argInt64(args map[string]any, key string) (int64, error) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("argument %q must be a number", key)
	}
}
