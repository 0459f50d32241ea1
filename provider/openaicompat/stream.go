package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/stewardhq/steward"
)

// streamSSE reads an SSE stream from body and translates each chunk into
// steward fragments: text deltas become FragmentText, tool-call deltas
// become index-keyed FragmentCallDelta fragments with the call id and
// name carried on the first delta for each index.
//
// The channel is closed when the stream ends. Token usage is taken from
// whichever chunk carries it (typically the final usage-only chunk).
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func streamSSE(ctx context.Context, body io.Reader, ch chan<- steward.Fragment) (steward.Usage, error) {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var total steward.Usage

	for scanner.Scan() {
		line := scanner.Text()

		// SSE lines that carry data start with "data: ".
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		// End-of-stream sentinel.
		if data == "[DONE]" {
			break
		}

		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed chunks.
			continue
		}

		if chunk.Usage != nil {
			total.InputTokens = chunk.Usage.PromptTokens
			total.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta == nil {
			continue
		}

		if delta.Content != "" {
			select {
			case ch <- steward.Fragment{Type: steward.FragmentText, Text: delta.Content}:
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}

		for _, tc := range delta.ToolCalls {
			frag := steward.Fragment{
				Type:      steward.FragmentCallDelta,
				Index:     tc.Index,
				CallID:    tc.ID,
				Name:      tc.Function.Name,
				ArgsChunk: tc.Function.Arguments,
			}
			select {
			case ch <- frag:
			case <-ctx.Done():
				return total, ctx.Err()
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return total, steward.Transient(err)
	}
	return total, nil
}
