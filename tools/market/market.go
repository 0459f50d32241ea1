// Package market provides read-only market query tools: current prices
// and open listings for tradeable goods. All tools are read tier and
// auto-execute at autonomy L1 and above.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/stewardhq/steward"
)

// Quote is one item's market snapshot.
type Quote struct {
	Item     string  `json:"item"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Volume   int     `json:"volume"`
}

// Listing is one open sell offer.
type Listing struct {
	Item     string  `json:"item"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Seller   string  `json:"seller"`
}

// QuoteSource supplies market data. The default source serves a static
// in-memory table; production deployments inject a live feed.
type QuoteSource interface {
	Quote(ctx context.Context, item string) (Quote, bool, error)
	Listings(ctx context.Context, item string, limit int) ([]Listing, error)
}

// Tool exposes market queries to the agent.
type Tool struct {
	source QuoteSource
}

// Option configures the market tool.
type Option func(*Tool)

// WithSource replaces the built-in static quote table.
func WithSource(s QuoteSource) Option {
	return func(t *Tool) { t.source = s }
}

// New creates the market query toolset.
func New(opts ...Option) *Tool {
	t := &Tool{source: newStaticSource()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Specs implements steward.Toolset.
func (t *Tool) Specs() []steward.ToolSpec {
	return []steward.ToolSpec{
		{
			Definition: steward.ToolDefinition{
				Name:        "market_price",
				Description: "Get the current market price and traded volume for an item.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"item": {"type": "string", "description": "Item name, e.g. \"copper ore\""}
					},
					"required": ["item"]
				}`),
			},
			Risk:    steward.RiskRead,
			Execute: t.price,
		},
		{
			Definition: steward.ToolDefinition{
				Name:        "market_listings",
				Description: "List open sell offers for an item, cheapest first.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"item": {"type": "string"},
						"limit": {"type": "integer", "description": "Max offers to return (default 5)"}
					},
					"required": ["item"]
				}`),
			},
			Risk:    steward.RiskRead,
			Execute: t.listings,
		},
	}
}

func (t *Tool) price(ctx context.Context, args json.RawMessage) (steward.ToolResult, error) {
	var params struct {
		Item string `json:"item"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return steward.ToolResult{}, steward.Permanent(fmt.Errorf("invalid arguments: %w", err))
	}
	if strings.TrimSpace(params.Item) == "" {
		return steward.ToolResult{Error: "item is required"}, nil
	}
	q, ok, err := t.source.Quote(ctx, params.Item)
	if err != nil {
		return steward.ToolResult{}, err
	}
	if !ok {
		return steward.ToolResult{Error: fmt.Sprintf("no market data for %q", params.Item)}, nil
	}
	out, _ := json.Marshal(q)
	return steward.ToolResult{Content: string(out)}, nil
}

func (t *Tool) listings(ctx context.Context, args json.RawMessage) (steward.ToolResult, error) {
	var params struct {
		Item  string `json:"item"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return steward.ToolResult{}, steward.Permanent(fmt.Errorf("invalid arguments: %w", err))
	}
	if params.Limit <= 0 {
		params.Limit = 5
	}
	ls, err := t.source.Listings(ctx, params.Item, params.Limit)
	if err != nil {
		return steward.ToolResult{}, err
	}
	if len(ls) == 0 {
		return steward.ToolResult{Error: fmt.Sprintf("no open listings for %q", params.Item)}, nil
	}
	out, _ := json.Marshal(ls)
	return steward.ToolResult{Content: string(out)}, nil
}

// --- static source ---

// staticSource is the built-in sample market, read-only after creation.
type staticSource struct {
	mu       sync.RWMutex
	quotes   map[string]Quote
	listings map[string][]Listing
}

func newStaticSource() *staticSource {
	s := &staticSource{
		quotes:   make(map[string]Quote),
		listings: make(map[string][]Listing),
	}
	seed := []Quote{
		{Item: "copper ore", Price: 12.40, Currency: "cr", Volume: 5210},
		{Item: "iron ore", Price: 9.15, Currency: "cr", Volume: 11830},
		{Item: "timber", Price: 4.75, Currency: "cr", Volume: 20400},
		{Item: "wheat", Price: 2.10, Currency: "cr", Volume: 45000},
		{Item: "copper wire", Price: 31.00, Currency: "cr", Volume: 1890},
	}
	for _, q := range seed {
		s.quotes[q.Item] = q
		s.listings[q.Item] = []Listing{
			{Item: q.Item, Price: q.Price * 0.98, Quantity: 50, Seller: "north-depot"},
			{Item: q.Item, Price: q.Price, Quantity: 200, Seller: "harbor-exchange"},
			{Item: q.Item, Price: q.Price * 1.06, Quantity: 500, Seller: "guild-hall"},
		}
	}
	return s
}

func (s *staticSource) Quote(_ context.Context, item string) (Quote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[strings.ToLower(strings.TrimSpace(item))]
	return q, ok, nil
}

func (s *staticSource) Listings(_ context.Context, item string, limit int) ([]Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ls := s.listings[strings.ToLower(strings.TrimSpace(item))]
	out := make([]Listing, len(ls))
	copy(out, ls)
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
