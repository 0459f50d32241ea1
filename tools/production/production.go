// Package production provides read-only production calculators: given a
// target item and quantity, they expand the recipe tree into raw input
// requirements and estimate crafting cost. Both tools are read tier.
package production

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stewardhq/steward"
)

// Ingredient is one input of a recipe.
type Ingredient struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
}

// Recipe produces one unit of Output from Inputs. Items without a recipe
// are raw materials priced by UnitCost.
type Recipe struct {
	Output string       `json:"output"`
	Inputs []Ingredient `json:"inputs"`
}

// Tool exposes the production calculators.
type Tool struct {
	recipes  map[string]Recipe
	rawCosts map[string]float64
}

// Option configures the production tool.
type Option func(*Tool)

// WithRecipes replaces the built-in recipe book.
func WithRecipes(recipes []Recipe, rawCosts map[string]float64) Option {
	return func(t *Tool) {
		t.recipes = make(map[string]Recipe, len(recipes))
		for _, r := range recipes {
			t.recipes[r.Output] = r
		}
		t.rawCosts = rawCosts
	}
}

// New creates the production calculator toolset with the built-in
// recipe book.
func New(opts ...Option) *Tool {
	t := &Tool{}
	WithRecipes(defaultRecipes, defaultRawCosts)(t)
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
				Name:        "production_requirements",
				Description: "Expand an item's recipe tree into total raw material requirements for a target quantity.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"item": {"type": "string"},
						"quantity": {"type": "number", "description": "Units to produce (default 1)"}
					},
					"required": ["item"]
				}`),
			},
			Risk:    steward.RiskRead,
			Execute: t.requirements,
		},
		{
			Definition: steward.ToolDefinition{
				Name:        "production_cost",
				Description: "Estimate the raw material cost of producing a target quantity of an item.",
				Parameters: json.RawMessage(`{
					"type": "object",
					"properties": {
						"item": {"type": "string"},
						"quantity": {"type": "number", "description": "Units to produce (default 1)"}
					},
					"required": ["item"]
				}`),
			},
			Risk:    steward.RiskRead,
			Execute: t.cost,
		},
	}
}

type calcParams struct {
	Item     string  `json:"item"`
	Quantity float64 `json:"quantity"`
}

func (t *Tool) parseParams(args json.RawMessage) (calcParams, error) {
	var p calcParams
	if err := json.Unmarshal(args, &p); err != nil {
		return p, steward.Permanent(fmt.Errorf("invalid arguments: %w", err))
	}
	p.Item = strings.ToLower(strings.TrimSpace(p.Item))
	if p.Quantity <= 0 {
		p.Quantity = 1
	}
	return p, nil
}

func (t *Tool) requirements(_ context.Context, args json.RawMessage) (steward.ToolResult, error) {
	p, err := t.parseParams(args)
	if err != nil {
		return steward.ToolResult{}, err
	}
	raw, err := t.expand(p.Item, p.Quantity, 0)
	if err != nil {
		return steward.ToolResult{Error: err.Error()}, nil
	}
	type line struct {
		Item     string  `json:"item"`
		Quantity float64 `json:"quantity"`
	}
	lines := make([]line, 0, len(raw))
	for item, qty := range raw {
		lines = append(lines, line{Item: item, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Item < lines[j].Item })
	out, _ := json.Marshal(map[string]any{
		"item":     p.Item,
		"quantity": p.Quantity,
		"inputs":   lines,
	})
	return steward.ToolResult{Content: string(out)}, nil
}

func (t *Tool) cost(_ context.Context, args json.RawMessage) (steward.ToolResult, error) {
	p, err := t.parseParams(args)
	if err != nil {
		return steward.ToolResult{}, err
	}
	raw, err := t.expand(p.Item, p.Quantity, 0)
	if err != nil {
		return steward.ToolResult{Error: err.Error()}, nil
	}
	var total float64
	for item, qty := range raw {
		cost, ok := t.rawCosts[item]
		if !ok {
			return steward.ToolResult{Error: fmt.Sprintf("no cost data for raw material %q", item)}, nil
		}
		total += cost * qty
	}
	out, _ := json.Marshal(map[string]any{
		"item":       p.Item,
		"quantity":   p.Quantity,
		"total_cost": total,
		"unit_cost":  total / p.Quantity,
		"currency":   "cr",
	})
	return steward.ToolResult{Content: string(out)}, nil
}

// maxRecipeDepth guards against recipe cycles.
const maxRecipeDepth = 16

// expand recursively resolves an item into raw material quantities.
func (t *Tool) expand(item string, qty float64, depth int) (map[string]float64, error) {
	if depth > maxRecipeDepth {
		return nil, fmt.Errorf("recipe tree for %q exceeds depth %d (cycle?)", item, maxRecipeDepth)
	}
	recipe, ok := t.recipes[item]
	if !ok {
		if _, raw := t.rawCosts[item]; !raw {
			return nil, fmt.Errorf("unknown item %q", item)
		}
		return map[string]float64{item: qty}, nil
	}
	totals := make(map[string]float64)
	for _, ing := range recipe.Inputs {
		sub, err := t.expand(ing.Item, ing.Quantity*qty, depth+1)
		if err != nil {
			return nil, err
		}
		for k, v := range sub {
			totals[k] += v
		}
	}
	return totals, nil
}

// Built-in recipe book used when no custom recipes are injected.
var defaultRecipes = []Recipe{
	{Output: "copper wire", Inputs: []Ingredient{{Item: "copper ingot", Quantity: 2}}},
	{Output: "copper ingot", Inputs: []Ingredient{{Item: "copper ore", Quantity: 3}}},
	{Output: "bread", Inputs: []Ingredient{{Item: "flour", Quantity: 2}, {Item: "water", Quantity: 1}}},
	{Output: "flour", Inputs: []Ingredient{{Item: "wheat", Quantity: 3}}},
	{Output: "crate", Inputs: []Ingredient{{Item: "timber", Quantity: 4}, {Item: "iron nail", Quantity: 12}}},
	{Output: "iron nail", Inputs: []Ingredient{{Item: "iron ingot", Quantity: 0.1}}},
	{Output: "iron ingot", Inputs: []Ingredient{{Item: "iron ore", Quantity: 2}}},
}

var defaultRawCosts = map[string]float64{
	"copper ore": 12.40,
	"iron ore":   9.15,
	"timber":     4.75,
	"wheat":      2.10,
	"water":      0.05,
}
