package steward

import (
	"sort"
	"testing"
)

func TestNewIDUniqueAndSortable(t *testing.T) {
	const n = 100
	ids := make([]string, n)
	seen := make(map[string]bool, n)
	for i := range n {
		ids[i] = NewID()
		if seen[ids[i]] {
			t.Fatalf("duplicate id %s", ids[i])
		}
		seen[ids[i]] = true
	}
	// UUIDv7 ids generated in sequence sort by creation time.
	if !sort.StringsAreSorted(ids) {
		t.Error("ids generated in order should be lexically sorted")
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{InputTokens: 10, OutputTokens: 5}
	u.Add(Usage{InputTokens: 3, OutputTokens: 7})
	if u != (Usage{InputTokens: 13, OutputTokens: 12}) {
		t.Errorf("usage = %+v", u)
	}
}

func TestMessageConstructors(t *testing.T) {
	if m := UserMessage("hi"); m.Role != "user" || m.Content != "hi" || m.CreatedAt == 0 {
		t.Errorf("user message = %+v", m)
	}
	if m := SystemMessage("rules"); m.Role != "system" {
		t.Errorf("system message = %+v", m)
	}
	if m := AssistantMessage("sure"); m.Role != "assistant" {
		t.Errorf("assistant message = %+v", m)
	}
	m := ToolResultMessage("call_9", "output")
	if m.Role != "tool" || m.ToolCallID != "call_9" || m.Content != "output" {
		t.Errorf("tool message = %+v", m)
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent("sess-1", EventCompleted, map[string]any{"k": "v"})
	if ev.ID == "" || ev.SessionID != "sess-1" || ev.Type != EventCompleted || ev.CreatedAt == 0 {
		t.Errorf("event = %+v", ev)
	}
	if ev.Payload["k"] != "v" {
		t.Errorf("payload = %+v", ev.Payload)
	}
}

func TestToolCallRequestAsToolCall(t *testing.T) {
	req := ToolCallRequest{ID: "call_1", Name: "lookup", Args: []byte(`{"q":"x"}`), Index: 2}
	tc := req.AsToolCall()
	if tc.ID != req.ID || tc.Name != req.Name || tc.Index != req.Index || string(tc.Args) != `{"q":"x"}` {
		t.Errorf("tool call = %+v", tc)
	}
}
