package orchestration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"claimpilot/internal/llm"
)

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 0},
		{"abcd", 1},
		{"abcdefgh", 2},
		{"abcdefghi", 2},
	} {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestThreadID(t *testing.T) {
	t.Parallel()

	if got := ThreadID(42, "abc"); got != "42:abc" {
		t.Errorf("ThreadID = %q, want 42:abc", got)
	}
}

func TestDefaultTokenBudget(t *testing.T) {
	t.Parallel()

	b := DefaultTokenBudget()
	if b.WorldSnapshot != 800 || b.PeopleTimeAnchor != 1200 || b.MemorySummaries != 1000 || b.EvidencePack != 3000 || b.Total != 6000 {
		t.Errorf("unexpected budget: %+v", b)
	}
}

func TestState_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	compiled := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s := NewState(7, "sess", "check pending rates", 10)
	s.Messages = []llm.Message{
		{Role: llm.RoleUser, Content: "check pending rates"},
		{Role: llm.RoleAssistant, Content: "Two rates are pending."},
	}
	s.Packet.WorldSnapshot = &WorldSnapshot{RunID: 7, RunStatus: "PROCESSING", PeopleCount: 2, PendingRates: 2}
	s.Packet.EvidencePack = &EvidencePack{
		Items:           []EvidenceItem{{SegmentID: 3, Content: "Ada 31.50/h", Filename: "payroll.csv", Score: -1.2}},
		QueryUsed:       "check pending rates",
		RetrievalMethod: "fts",
	}
	s.Packet.CompiledAt = &compiled
	s.ToolQueue = []ToolRequest{{ToolName: "people_list", Arguments: map[string]any{}}}
	s.StepCount = 1

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	var got State
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestNewState(t *testing.T) {
	t.Parallel()

	s := NewState(3, "sess", "hello", 5)
	if s.ThreadID != "3:sess" {
		t.Errorf("ThreadID = %q", s.ThreadID)
	}
	if s.MaxSteps != 5 {
		t.Errorf("MaxSteps = %d", s.MaxSteps)
	}
	if s.Version != StateVersion {
		t.Errorf("Version = %d, want %d", s.Version, StateVersion)
	}
	if s.Packet.TokenBudget != DefaultTokenBudget() {
		t.Errorf("TokenBudget = %+v", s.Packet.TokenBudget)
	}
}

func TestLastAssistantMessage(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 5)
	if got := s.LastAssistantMessage(); got != "" {
		t.Errorf("empty transcript returned %q", got)
	}

	s.Messages = []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "first"},
		{Role: llm.RoleTool, Content: "{}"},
		{Role: llm.RoleAssistant, Content: "second"},
		{Role: llm.RoleUser, Content: "more"},
	}
	if got := s.LastAssistantMessage(); got != "second" {
		t.Errorf("LastAssistantMessage = %q, want second", got)
	}
}
