package steward

import (
	"testing"
)

func TestAccumulatorBlockShape(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentText, Text: "Checking the market. "})
	acc.Process(Fragment{Type: FragmentCallStart, CallID: "call_a", Name: "market_price", Index: 0})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_a", ArgsChunk: `{"item":`})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_a", ArgsChunk: `"wheat"}`})
	acc.Process(Fragment{Type: FragmentCallEnd, CallID: "call_a"})
	acc.Process(Fragment{Type: FragmentText, Text: "One moment."})

	calls := acc.Drain()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	c := calls[0]
	if c.ID != "call_a" || c.Name != "market_price" {
		t.Errorf("unexpected call identity: %+v", c)
	}
	if string(c.Args) != `{"item":"wheat"}` {
		t.Errorf("args = %s", c.Args)
	}
	if c.ParseErr != nil {
		t.Errorf("unexpected parse error: %v", c.ParseErr)
	}
	if got := acc.Text(); got != "Checking the market. One moment." {
		t.Errorf("text = %q", got)
	}
}

func TestAccumulatorInterleavedCalls(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentCallStart, CallID: "call_a", Name: "market_price", Index: 0})
	acc.Process(Fragment{Type: FragmentCallStart, CallID: "call_b", Name: "shopping_add", Index: 1})
	// Deltas for the two calls interleave; each call's own chunks stay
	// ordered.
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_b", ArgsChunk: `{"name":"timber"`})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_a", ArgsChunk: `{"item":"iron `})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_b", ArgsChunk: `,"quantity":4}`})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_a", ArgsChunk: `ore"}`})
	acc.Process(Fragment{Type: FragmentCallEnd, CallID: "call_a"})
	acc.Process(Fragment{Type: FragmentCallEnd, CallID: "call_b"})

	calls := acc.Drain()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	// Order follows first-seen, and Index is the first-seen ordinal.
	if calls[0].Name != "market_price" || calls[0].Index != 0 {
		t.Errorf("call 0 = %+v", calls[0])
	}
	if calls[1].Name != "shopping_add" || calls[1].Index != 1 {
		t.Errorf("call 1 = %+v", calls[1])
	}
	if string(calls[0].Args) != `{"item":"iron ore"}` {
		t.Errorf("call 0 args = %s", calls[0].Args)
	}
	if string(calls[1].Args) != `{"name":"timber","quantity":4}` {
		t.Errorf("call 1 args = %s", calls[1].Args)
	}
}

func TestAccumulatorIndexedShape(t *testing.T) {
	// OpenAI-style: no start fragments; id and name ride on the first
	// delta for each index.
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentCallDelta, Index: 0, CallID: "call_x", Name: "lookup", ArgsChunk: `{"q":`})
	acc.Process(Fragment{Type: FragmentCallDelta, Index: 1, CallID: "call_y", Name: "annotate", ArgsChunk: `{}`})
	acc.Process(Fragment{Type: FragmentCallDelta, Index: 0, ArgsChunk: `"copper"}`})

	calls := acc.Drain()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "call_x" || calls[0].Name != "lookup" || string(calls[0].Args) != `{"q":"copper"}` {
		t.Errorf("call 0 = %+v args=%s", calls[0], calls[0].Args)
	}
	if calls[1].ID != "call_y" || calls[1].Name != "annotate" {
		t.Errorf("call 1 = %+v", calls[1])
	}
}

func TestAccumulatorEmptyArgs(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentCallStart, CallID: "call_a", Name: "shopping_list"})
	acc.Process(Fragment{Type: FragmentCallEnd, CallID: "call_a"})

	calls := acc.Drain()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if string(calls[0].Args) != "{}" {
		t.Errorf("empty arg stream should yield {}, got %s", calls[0].Args)
	}
	if calls[0].ParseErr != nil {
		t.Errorf("unexpected parse error: %v", calls[0].ParseErr)
	}
}

func TestAccumulatorMalformedArgs(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentCallStart, CallID: "call_a", Name: "market_price"})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_a", ArgsChunk: `{"item": "wheat`})
	acc.Process(Fragment{Type: FragmentCallEnd, CallID: "call_a"})

	calls := acc.Drain()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ParseErr == nil {
		t.Fatal("expected parse error for truncated JSON")
	}
	if string(calls[0].Args) != "{}" {
		t.Errorf("malformed args should be replaced with {}, got %s", calls[0].Args)
	}
}

func TestAccumulatorGeneratesMissingID(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentCallDelta, Index: 0, Name: "lookup", ArgsChunk: `{}`})

	calls := acc.Drain()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID == "" {
		t.Error("expected a generated call id")
	}
}

func TestAccumulatorDrainIdempotent(t *testing.T) {
	acc := NewAccumulator()
	for _, f := range callFrags("call_a", "lookup", `{"q":"x"}`, 0) {
		acc.Process(f)
	}

	first := acc.Drain()
	second := acc.Drain()
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("drain lengths = %d, %d", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Error("repeated Drain must return the same frozen calls")
	}
}

func TestAccumulatorDropsOrphanBlockDelta(t *testing.T) {
	// A block-shaped stream delivering a delta for an unknown call id has
	// nothing to attach it to; the fragment is dropped.
	acc := NewAccumulator()
	acc.Process(Fragment{Type: FragmentCallStart, CallID: "call_a", Name: "lookup"})
	acc.Process(Fragment{Type: FragmentCallDelta, CallID: "call_ghost", ArgsChunk: `{"x":1}`})
	acc.Process(Fragment{Type: FragmentCallEnd, CallID: "call_a"})

	calls := acc.Drain()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if string(calls[0].Args) != "{}" {
		t.Errorf("orphan delta must not leak into another call, got %s", calls[0].Args)
	}
}

func TestAccumulatorTextOnly(t *testing.T) {
	acc := NewAccumulator()
	acc.Process(textFrag("hello "))
	acc.Process(textFrag("world"))

	if calls := acc.Drain(); len(calls) != 0 {
		t.Errorf("expected no calls, got %d", len(calls))
	}
	if acc.Text() != "hello world" {
		t.Errorf("text = %q", acc.Text())
	}
}
