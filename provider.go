package steward

import "context"

// FragmentType identifies the kind of streamed model output fragment.
type FragmentType string

const (
	// FragmentText carries an incremental text chunk.
	FragmentText FragmentType = "text"
	// FragmentCallStart announces a new tool call with its id and name.
	// Providers that stream block-delimited tool calls emit this before
	// any argument chunks.
	FragmentCallStart FragmentType = "call-start"
	// FragmentCallDelta carries a partial JSON argument string. Providers
	// that stream index-keyed deltas may carry the call id and name on the
	// first delta for an index instead of emitting a separate start.
	FragmentCallDelta FragmentType = "call-delta"
	// FragmentCallEnd marks a tool call's argument stream as complete.
	FragmentCallEnd FragmentType = "call-end"
)

// Fragment is one unit of streamed model output. The provider turns its
// vendor wire protocol into this discriminated union; end of turn is the
// closing of the fragment channel.
type Fragment struct {
	Type FragmentType
	// Text is the chunk content for FragmentText.
	Text string
	// CallID identifies the tool call. Required on FragmentCallStart;
	// optional on deltas in index-keyed streams.
	CallID string
	// Name is the tool name. Required on FragmentCallStart; optional on
	// the first delta in index-keyed streams.
	Name string
	// Index is the call's position within the turn as reported by the
	// provider. Keys delta routing for index-keyed streams.
	Index int
	// ArgsChunk is a partial JSON argument string (FragmentCallDelta).
	ArgsChunk string
}

// ChatRequest is one model turn request: the full history plus the tool
// definitions the model may call.
type ChatRequest struct {
	System   string
	Messages []ChatMessage
	Tools    []ToolDefinition
}

// Provider abstracts the language model backend as a black-box streaming
// source of text and tool-call fragments.
type Provider interface {
	// StreamTurn streams one model turn into ch and closes ch when the
	// turn ends. Fragments for a single call arrive in order; fragments
	// for different calls may interleave. Returns the turn's token usage.
	StreamTurn(ctx context.Context, req ChatRequest, ch chan<- Fragment) (Usage, error)
	// Name returns the provider name (e.g. "openai", "anthropic").
	Name() string
}
