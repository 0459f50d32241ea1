// Package openaicompat implements steward.Provider for any
// OpenAI-compatible chat completions API (OpenAI, OpenRouter, Groq,
// Together, DeepSeek, Mistral, Ollama, vLLM, LM Studio, Azure OpenAI).
package openaicompat

import "encoding/json"

// --- Request types ---

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Tools       []tool    `json:"tools,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	// When streaming, request usage in the final chunk.
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

// streamOptions controls streaming behavior.
type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// message is a single message in the OpenAI chat format.
type message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// tool wraps a function definition in the OpenAI tool format.
type tool struct {
	Type     string   `json:"type"` // always "function"
	Function function `json:"function"`
}

// function describes a callable function for tool use.
type function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// wireToolCall represents a tool call in an OpenAI request or response.
// During streaming, Index indicates which tool call is being updated.
type wireToolCall struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"` // "function"
	Function functionCall `json:"function"`
}

// functionCall holds the function name and arguments (as a JSON string).
type functionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// --- Response types ---

// chatResponse is one SSE chunk of the streamed completions response.
type chatResponse struct {
	ID      string   `json:"id"`
	Choices []choice `json:"choices"`
	Usage   *usage   `json:"usage,omitempty"`
}

// choice is a single completion choice.
type choice struct {
	Index        int            `json:"index"`
	Delta        *choiceMessage `json:"delta,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// choiceMessage is the delta content within a streamed choice.
type choiceMessage struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

// usage contains token usage statistics.
type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
