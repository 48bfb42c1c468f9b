package orchestration

import (
	"encoding/json"
	"time"
)

// CompileContext enforces the per-lane token budgets. For each lane whose
// serialized size exceeds its ceiling, whole elements are removed from the
// tail and the lane re-measured until it fits or runs out of removable
// elements. Tail order matches retrieval priority: oldest tool outcomes,
// last-by-name people, newest memory entries, lowest-relevance evidence.
// Content is never rewritten, only dropped, and a lane already within
// budget is untouched. CompiledAt is set unconditionally.
func CompileContext(s State) State {
	budget := s.Packet.TokenBudget

	if ws := s.Packet.WorldSnapshot; ws != nil {
		for laneTokens(ws) > budget.WorldSnapshot && len(ws.LastToolOutcomes) > 0 {
			ws.LastToolOutcomes = ws.LastToolOutcomes[:len(ws.LastToolOutcomes)-1]
		}
	}
	if anchor := s.Packet.PeopleTimeAnchor; anchor != nil {
		for laneTokens(anchor) > budget.PeopleTimeAnchor && len(anchor.People) > 0 {
			anchor.People = anchor.People[:len(anchor.People)-1]
		}
	}
	if mem := s.Packet.MemorySummaries; mem != nil {
		for laneTokens(mem) > budget.MemorySummaries && len(mem.Entries) > 0 {
			mem.Entries = mem.Entries[:len(mem.Entries)-1]
		}
	}
	if ev := s.Packet.EvidencePack; ev != nil {
		for laneTokens(ev) > budget.EvidencePack && len(ev.Items) > 0 {
			ev.Items = ev.Items[:len(ev.Items)-1]
		}
	}

	now := time.Now().UTC()
	s.Packet.CompiledAt = &now
	return s
}

// laneTokens measures a lane's serialized size in estimated tokens.
func laneTokens(lane any) int {
	data, err := json.Marshal(lane)
	if err != nil {
		return 0
	}
	return EstimateTokens(string(data))
}
