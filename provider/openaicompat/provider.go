package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/stewardhq/steward"
)

// Provider implements steward.Provider against the OpenAI chat
// completions API. Each StreamTurn issues one streaming request and
// translates SSE chunks into steward fragments.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	client      *http.Client
	name        string
	temperature *float64
	maxTokens   int
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName overrides the provider name reported to the runtime.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the default http.Client, e.g. to set timeouts
// or a proxy.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithTemperature sets the sampling temperature for every request.
func WithTemperature(t float64) ProviderOption {
	return func(p *Provider) { p.temperature = &t }
}

// WithMaxTokens caps the completion length for every request.
func WithMaxTokens(n int) ProviderOption {
	return func(p *Provider) { p.maxTokens = n }
}

// NewProvider creates an OpenAI-compatible streaming provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "https://api.groq.com/openai/v1", "http://localhost:11434/v1").
// The /chat/completions path is appended automatically.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// StreamTurn sends one streaming chat request and feeds fragments into
// ch. The channel is closed when the turn ends, whether by completion or
// error.
func (p *Provider) StreamTurn(ctx context.Context, req steward.ChatRequest, ch chan<- steward.Fragment) (steward.Usage, error) {
	body := p.buildBody(req)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return steward.Usage{}, steward.Transient(fmt.Errorf("%s: send request: %w", p.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return steward.Usage{}, p.httpErr(resp)
	}

	// streamSSE closes ch when done.
	return streamSSE(ctx, resp.Body, ch)
}

// buildBody converts a steward chat request into the OpenAI wire format.
func (p *Provider) buildBody(req steward.ChatRequest) chatRequest {
	body := chatRequest{
		Model:         p.model,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
		Temperature:   p.temperature,
		MaxTokens:     p.maxTokens,
	}

	if req.System != "" {
		body.Messages = append(body.Messages, message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		wm := message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				Index: i,
				ID:    tc.ID,
				Type:  "function",
				Function: functionCall{
					Name:      tc.Name,
					Arguments: string(tc.Args),
				},
			})
		}
		body.Messages = append(body.Messages, wm)
	}

	for _, def := range req.Tools {
		body.Tools = append(body.Tools, tool{
			Type: "function",
			Function: function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return body
}

// sendHTTP marshals the request body and posts it to the chat
// completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	return p.client.Do(httpReq)
}

// httpErr reads the response body and wraps the status in the matching
// retry class: 429 and 5xx are transient, everything else permanent.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("%s: http %d: %s", p.name, resp.StatusCode, bytes.TrimSpace(body))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return steward.Transient(err)
	}
	return steward.Permanent(err)
}

// Compile-time interface check.
var _ steward.Provider = (*Provider)(nil)
