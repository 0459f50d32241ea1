package openaicompat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stewardhq/steward"
)

func TestStreamTurnEndToEnd(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("auth = %q", auth)
		}
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &gotBody); err != nil {
			t.Errorf("unmarshal body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"done"}}]}

data: {"choices":[],"usage":{"prompt_tokens":42,"completion_tokens":3}}

data: [DONE]
`)
	}))
	defer srv.Close()

	p := NewProvider("sk-test", "gpt-4o-mini", srv.URL, WithTemperature(0.2))

	req := steward.ChatRequest{
		System: "you are a steward",
		Messages: []steward.ChatMessage{
			steward.UserMessage("hello"),
			steward.ToolResultMessage("call_1", "ok"),
		},
		Tools: []steward.ToolDefinition{{Name: "market_price", Description: "d", Parameters: json.RawMessage(`{}`)}},
	}

	ch := make(chan steward.Fragment, 8)
	usage, err := p.StreamTurn(context.Background(), req, ch)
	if err != nil {
		t.Fatalf("stream turn: %v", err)
	}
	if usage.InputTokens != 42 || usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", usage)
	}

	var text string
	for f := range ch {
		text += f.Text
	}
	if text != "done" {
		t.Errorf("text = %q", text)
	}

	// Request body shape.
	if !gotBody.Stream || gotBody.StreamOptions == nil || !gotBody.StreamOptions.IncludeUsage {
		t.Error("streaming flags not set")
	}
	if gotBody.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", gotBody.Model)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.2 {
		t.Errorf("temperature = %v", gotBody.Temperature)
	}
	if len(gotBody.Messages) != 3 {
		t.Fatalf("got %d messages, want system + user + tool", len(gotBody.Messages))
	}
	if gotBody.Messages[0].Role != "system" || gotBody.Messages[0].Content != "you are a steward" {
		t.Errorf("messages[0] = %+v", gotBody.Messages[0])
	}
	if gotBody.Messages[2].Role != "tool" || gotBody.Messages[2].ToolCallID != "call_1" {
		t.Errorf("messages[2] = %+v", gotBody.Messages[2])
	}
	if len(gotBody.Tools) != 1 || gotBody.Tools[0].Function.Name != "market_price" {
		t.Errorf("tools = %+v", gotBody.Tools)
	}
}

func TestStreamTurnServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	ch := make(chan steward.Fragment, 1)
	_, err := p.StreamTurn(context.Background(), steward.ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected an error")
	}
	if steward.DefaultClassify(err) != steward.ClassRetryable {
		t.Errorf("503 should classify as retryable")
	}
	if _, open := <-ch; open {
		t.Error("channel left open after error")
	}
}

func TestStreamTurnClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewProvider("", "m", srv.URL)
	ch := make(chan steward.Fragment, 1)
	_, err := p.StreamTurn(context.Background(), steward.ChatRequest{}, ch)
	if err == nil {
		t.Fatal("expected an error")
	}
	if steward.DefaultClassify(err) != steward.ClassPermanent {
		t.Errorf("400 should classify as permanent")
	}
}

func TestAssistantToolCallsOnWire(t *testing.T) {
	p := NewProvider("", "m", "http://unused")

	asst := steward.AssistantMessage("")
	asst.ToolCalls = []steward.ToolCall{
		{ID: "call_1", Name: "market_price", Args: json.RawMessage(`{"item":"wheat"}`)},
	}
	body := p.buildBody(steward.ChatRequest{Messages: []steward.ChatMessage{asst}})

	if len(body.Messages) != 1 {
		t.Fatalf("got %d messages", len(body.Messages))
	}
	calls := body.Messages[0].ToolCalls
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Type != "function" {
		t.Fatalf("tool_calls = %+v", calls)
	}
	if calls[0].Function.Name != "market_price" || calls[0].Function.Arguments != `{"item":"wheat"}` {
		t.Errorf("function = %+v", calls[0].Function)
	}
}
