package steward

import (
	"encoding/json"
	"fmt"
	"strings"
)

// streamShape identifies which vendor fragment convention a stream uses.
// Detected from the first tool-call fragment seen; a stream never mixes
// shapes.
type streamShape int

const (
	// shapeUnknown: no tool-call fragment seen yet.
	shapeUnknown streamShape = iota
	// shapeBlocks: explicit call-start / call-delta / call-end fragments
	// keyed by call id (Anthropic-style content blocks).
	shapeBlocks
	// shapeIndexed: call-delta fragments keyed by index, with the call id
	// and name carried on the first delta for each index (OpenAI-style).
	shapeIndexed
)

// partialCall accumulates one tool call's fragments until the stream ends.
type partialCall struct {
	id       string
	name     string
	ordinal  int // position by first-seen order; fixes execution order
	args     strings.Builder
	finished bool
}

// Accumulator consumes an ordered sequence of model stream fragments and
// reconstructs complete tool-call requests, even when argument JSON
// arrives split across many fragments for any number of concurrently
// announced calls. Plain text fragments are collected separately and never
// mistaken for tool-call data.
//
// Not safe for concurrent use; one accumulator serves one model turn.
type Accumulator struct {
	shape   streamShape
	order   []*partialCall
	byID    map[string]*partialCall
	byIndex map[int]*partialCall
	text    strings.Builder
	drained []ToolCallRequest
	done    bool
}

// NewAccumulator returns an empty accumulator for one model turn.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		byID:    make(map[string]*partialCall),
		byIndex: make(map[int]*partialCall),
	}
}

// Process consumes one fragment. Fragments for a single call must arrive
// in that call's own order; fragments for different calls may interleave.
func (a *Accumulator) Process(f Fragment) {
	switch f.Type {
	case FragmentText:
		a.text.WriteString(f.Text)

	case FragmentCallStart:
		if a.shape == shapeUnknown {
			a.shape = shapeBlocks
		}
		pc := &partialCall{id: f.CallID, name: f.Name, ordinal: len(a.order)}
		a.order = append(a.order, pc)
		if f.CallID != "" {
			a.byID[f.CallID] = pc
		}
		a.byIndex[f.Index] = pc

	case FragmentCallDelta:
		if a.shape == shapeUnknown {
			a.shape = shapeIndexed
		}
		pc := a.resolve(f)
		if pc == nil {
			return
		}
		if f.CallID != "" && pc.id == "" {
			pc.id = f.CallID
			a.byID[f.CallID] = pc
		}
		if f.Name != "" && pc.name == "" {
			pc.name = f.Name
		}
		pc.args.WriteString(f.ArgsChunk)

	case FragmentCallEnd:
		if pc := a.resolve(f); pc != nil {
			pc.finished = true
		}
	}
}

// resolve finds the partial call a delta or end fragment belongs to,
// creating a slot when an index-keyed stream announces a new index.
func (a *Accumulator) resolve(f Fragment) *partialCall {
	if f.CallID != "" {
		if pc, ok := a.byID[f.CallID]; ok {
			return pc
		}
	}
	if pc, ok := a.byIndex[f.Index]; ok {
		return pc
	}
	if a.shape != shapeIndexed {
		// Block-shaped delta for a call that was never started; drop it
		// rather than invent a call with no name.
		return nil
	}
	pc := &partialCall{ordinal: len(a.order)}
	a.order = append(a.order, pc)
	a.byIndex[f.Index] = pc
	return pc
}

// Text returns the plain text accumulated so far, preserved separately
// from tool-call data for streaming to the end user.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Drain freezes the accumulated calls and returns them in the order their
// first fragment was seen. Each call's argument chunks are concatenated in
// arrival order and parsed exactly once; an empty argument stream yields
// {}, and invalid JSON sets ParseErr on the request instead of failing the
// drain. Calling Drain again returns the same frozen slice.
func (a *Accumulator) Drain() []ToolCallRequest {
	if a.done {
		return a.drained
	}
	a.done = true
	for _, pc := range a.order {
		req := ToolCallRequest{
			ID:    pc.id,
			Name:  pc.name,
			Index: pc.ordinal,
		}
		raw := pc.args.String()
		if raw == "" {
			raw = "{}"
		}
		if json.Valid([]byte(raw)) {
			req.Args = json.RawMessage(raw)
		} else {
			req.Args = json.RawMessage(`{}`)
			req.ParseErr = fmt.Errorf("tool call %q: malformed argument payload", pc.name)
		}
		if req.ID == "" {
			req.ID = NewID()
		}
		a.drained = append(a.drained, req)
	}
	return a.drained
}
