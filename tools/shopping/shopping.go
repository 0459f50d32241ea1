// Package shopping provides a stateful shopping list with tools spanning
// the full risk spectrum: reading the list, adding and removing items,
// placing an order, and clearing the list.
package shopping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/stewardhq/steward"
)

// Item is one entry on the shopping list.
type Item struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

// Orderer places an order for the current list. The returned string is an
// order reference shown to the model.
type Orderer interface {
	PlaceOrder(ctx context.Context, items []Item) (string, error)
}

// Tool holds the list state. Safe for concurrent use; the runtime may
// dispatch tool calls in parallel.
type Tool struct {
	mu      sync.Mutex
	items   []Item
	orderer Orderer
	ordered int
}

// Option configures the shopping tool.
type Option func(*Tool)

// WithOrderer routes shopping_order through a real order backend instead
// of the built-in stub.
func WithOrderer(o Orderer) Option {
	return func(t *Tool) { t.orderer = o }
}

// New creates an empty shopping list toolset.
func New(opts ...Option) *Tool {
	t := &Tool{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Items returns a snapshot of the current list.
func (t *Tool) Items() []Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

// Specs implements steward.Toolset.
func (t *Tool) Specs() []steward.ToolSpec {
	return []steward.ToolSpec{
		{
			Definition: steward.ToolDefinition{
				Name:        "shopping_list",
				Description: "Show the current shopping list.",
				Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			},
			Risk:    steward.RiskRead,
			Execute: t.list,
		},
		{
			Definition: steward.ToolDefinition{
				Name:        "shopping_add",
				Description: "Add an item to the shopping list, or increase its quantity if already present.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"quantity": {"type": "number", "description": "Units to add (default 1)"}
					},
					"required": ["name"]
				}`),
			},
			Risk:    steward.RiskLowWrite,
			Execute: t.add,
		},
		{
			Definition: steward.ToolDefinition{
				Name:        "shopping_remove",
				Description: "Remove an item from the shopping list.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"name": {"type": "string"}
					},
					"required": ["name"]
				}`),
			},
			Risk:    steward.RiskLowWrite,
			Execute: t.remove,
		},
		{
			Definition: steward.ToolDefinition{
				Name:        "shopping_order",
				Description: "Place an order for everything on the shopping list. The list is emptied on success.",
				Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			},
			Risk:    steward.RiskHighWrite,
			Execute: t.order,
		},
		{
			Definition: steward.ToolDefinition{
				Name:        "shopping_clear",
				Description: "Discard the entire shopping list without ordering. Cannot be undone.",
				Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
			},
			Risk:    steward.RiskIrreversible,
			Execute: t.clear,
		},
	}
}

func (t *Tool) list(_ context.Context, _ json.RawMessage) (steward.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, _ := json.Marshal(map[string]any{
		"items": t.items,
		"count": len(t.items),
	})
	return steward.ToolResult{Content: string(out)}, nil
}

type itemParams struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
}

func parseItem(args json.RawMessage) (itemParams, error) {
	var p itemParams
	if err := json.Unmarshal(args, &p); err != nil {
		return p, steward.Permanent(fmt.Errorf("invalid arguments: %w", err))
	}
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		return p, steward.Permanent(fmt.Errorf("item name is required"))
	}
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	return p, nil
}

func (t *Tool) add(_ context.Context, args json.RawMessage) (steward.ToolResult, error) {
	p, err := parseItem(args)
	if err != nil {
		return steward.ToolResult{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.items {
		if t.items[i].Name == p.Name {
			t.items[i].Quantity += p.Quantity
			return steward.ToolResult{Content: fmt.Sprintf("updated %q to quantity %g", p.Name, t.items[i].Quantity)}, nil
		}
	}
	t.items = append(t.items, Item{Name: p.Name, Quantity: p.Quantity})
	return steward.ToolResult{Content: fmt.Sprintf("added %g x %q", p.Quantity, p.Name)}, nil
}

func (t *Tool) remove(_ context.Context, args json.RawMessage) (steward.ToolResult, error) {
	p, err := parseItem(args)
	if err != nil {
		return steward.ToolResult{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.items {
		if t.items[i].Name == p.Name {
			t.items = append(t.items[:i], t.items[i+1:]...)
			return steward.ToolResult{Content: fmt.Sprintf("removed %q", p.Name)}, nil
		}
	}
	return steward.ToolResult{Error: fmt.Sprintf("%q is not on the list", p.Name)}, nil
}

func (t *Tool) order(ctx context.Context, _ json.RawMessage) (steward.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.items) == 0 {
		return steward.ToolResult{Error: "the shopping list is empty"}, nil
	}
	items := make([]Item, len(t.items))
	copy(items, t.items)

	ref := fmt.Sprintf("order-%s", steward.NewID())
	if t.orderer != nil {
		var err error
		ref, err = t.orderer.PlaceOrder(ctx, items)
		if err != nil {
			return steward.ToolResult{}, err
		}
	}
	t.items = nil
	t.ordered++
	out, _ := json.Marshal(map[string]any{
		"reference": ref,
		"items":     items,
	})
	return steward.ToolResult{Content: string(out)}, nil
}

func (t *Tool) clear(_ context.Context, _ json.RawMessage) (steward.ToolResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.items)
	t.items = nil
	return steward.ToolResult{Content: fmt.Sprintf("cleared %d items", n)}, nil
}
