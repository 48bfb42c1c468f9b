package orchestration

import (
	"encoding/json"
	"fmt"
	"strings"
)

// promptRules is the fixed preamble of the planner's system prompt.
const promptRules = `You are the planning step of a claim-preparation assistant working on one run.
Decide the single next action from the context below.

Rules:
- Respond with a single JSON object matching the requested schema, nothing else.
- Set "done": false and request exactly one tool when more work is needed.
- Set "done": true with a "stop_reason" and a "draft_response" when finished.
- Use stop_reason "complete" when the instruction is satisfied, "ask_user" when you need input from the user.
- Only request tools from the available tools list.
- Never invent data; rely on the context sections and tool results.`

// renderSystemPrompt builds the planner's system prompt from the compiled
// packet. Section order is fixed: rules, world snapshot, anchor lane,
// memory summaries, evidence pack, available tools. ToolNames must already
// be sorted ascending; the registry guarantees that.
func renderSystemPrompt(packet ContextPacket, toolNames []string) string {
	var b strings.Builder
	b.WriteString(promptRules)

	b.WriteString("\n\n## World snapshot\n")
	writeSection(&b, packet.WorldSnapshot)

	b.WriteString("\n## People and time\n")
	writeSection(&b, packet.PeopleTimeAnchor)

	b.WriteString("\n## Memory\n")
	writeSection(&b, packet.MemorySummaries)

	b.WriteString("\n## Evidence\n")
	writeSection(&b, packet.EvidencePack)

	b.WriteString("\n## Available tools\n")
	if len(toolNames) == 0 {
		b.WriteString("(none)\n")
	}
	for _, name := range toolNames {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return b.String()
}

// writeSection renders one lane as compact JSON, or a placeholder for a
// lane that was never populated.
func writeSection(b *strings.Builder, lane any) {
	data, err := json.Marshal(lane)
	if err != nil || string(data) == "null" {
		b.WriteString("(not available)\n")
		return
	}
	b.Write(data)
	b.WriteString("\n")
}
