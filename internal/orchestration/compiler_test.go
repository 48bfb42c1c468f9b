package orchestration

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// bulkEvidence builds n items whose content makes each one roughly the
// given token size.
func bulkEvidence(n, tokensEach int) []EvidenceItem {
	items := make([]EvidenceItem, n)
	for i := range items {
		items[i] = EvidenceItem{
			SegmentID: int64(i + 1),
			Content:   strings.Repeat("x", tokensEach*4),
			Score:     float64(i), // rank order: item 0 is the best hit
		}
	}
	return items
}

func TestCompileContext_WithinBudgetUntouched(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 10)
	s.Packet.WorldSnapshot = &WorldSnapshot{RunID: 1, RunStatus: "PROCESSING"}
	s.Packet.EvidencePack = &EvidencePack{Items: bulkEvidence(3, 10), QueryUsed: "hi", RetrievalMethod: "fts"}
	before := *s.Packet.EvidencePack

	got := CompileContext(s)

	if diff := cmp.Diff(before.Items, got.Packet.EvidencePack.Items); diff != "" {
		t.Errorf("within-budget lane was modified (-want +got):\n%s", diff)
	}
	if got.Packet.CompiledAt == nil {
		t.Error("CompiledAt not set")
	}
}

func TestCompileContext_TrimsEvidenceTail(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 10)
	// 20 items at ~300 tokens each is far over the 3000-token ceiling.
	s.Packet.EvidencePack = &EvidencePack{Items: bulkEvidence(20, 300), QueryUsed: "hi", RetrievalMethod: "fts"}

	got := CompileContext(s)

	ev := got.Packet.EvidencePack
	if laneTokens(ev) > got.Packet.TokenBudget.EvidencePack {
		t.Errorf("lane still over budget: %d tokens", laneTokens(ev))
	}
	if len(ev.Items) == 0 {
		t.Fatal("all items trimmed; tail trim should keep the best hits")
	}
	// Whole elements are dropped from the tail: survivors are a prefix.
	for i, item := range ev.Items {
		if item.SegmentID != int64(i+1) {
			t.Errorf("item %d has segment %d; trimming reordered the lane", i, item.SegmentID)
		}
	}
	if ev.Items[0].Content != strings.Repeat("x", 300*4) {
		t.Error("surviving content was rewritten")
	}
}

func TestCompileContext_TrimsPeopleTail(t *testing.T) {
	t.Parallel()

	people := make([]PersonAnchor, 200)
	for i := range people {
		people[i] = PersonAnchor{PersonID: int64(i + 1), Name: strings.Repeat("n", 40), RateStatus: "SET"}
	}
	s := NewState(1, "sess", "hi", 10)
	s.Packet.PeopleTimeAnchor = &PeopleTimeAnchor{People: people}

	got := CompileContext(s)

	anchor := got.Packet.PeopleTimeAnchor
	if laneTokens(anchor) > got.Packet.TokenBudget.PeopleTimeAnchor {
		t.Errorf("anchor lane still over budget: %d tokens", laneTokens(anchor))
	}
	if len(anchor.People) == 0 || anchor.People[0].PersonID != 1 {
		t.Error("trim should drop from the tail, keeping the first people")
	}
}

func TestCompileContext_Idempotent(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 10)
	s.Packet.EvidencePack = &EvidencePack{Items: bulkEvidence(20, 300), QueryUsed: "hi", RetrievalMethod: "fts"}

	once := CompileContext(s)
	firstItems := append([]EvidenceItem(nil), once.Packet.EvidencePack.Items...)

	twice := CompileContext(once)
	if diff := cmp.Diff(firstItems, twice.Packet.EvidencePack.Items); diff != "" {
		t.Errorf("second compile changed an already-compiled lane (-want +got):\n%s", diff)
	}
}

func TestCompileContext_NilLanes(t *testing.T) {
	t.Parallel()

	s := NewState(1, "sess", "hi", 10)
	got := CompileContext(s)
	if got.Packet.CompiledAt == nil {
		t.Error("CompiledAt should be set even with no lanes")
	}
}
