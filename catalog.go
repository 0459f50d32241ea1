package steward

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolFunc executes one tool invocation. A returned error is classified
// for retry; a ToolResult with Error set is a structured failure that the
// loop injects as-is without retrying.
type ToolFunc func(ctx context.Context, args json.RawMessage) (ToolResult, error)

// ToolSpec is one catalog entry: the model-facing definition, the risk
// tier the authorization policy consults, and the executor.
type ToolSpec struct {
	Definition ToolDefinition
	Risk       RiskTier
	Execute    ToolFunc
}

// Toolset is a group of related tool specs contributed by one package
// (tools/market, tools/production, tools/shopping).
type Toolset interface {
	Specs() []ToolSpec
}

// Catalog is the static mapping from tool name to risk tier and executor.
// Register all tools at startup, then treat the catalog as read-only; a
// frozen catalog is safe for concurrent lookup from any number of
// sessions.
type Catalog struct {
	entries map[string]ToolSpec
	order   []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]ToolSpec)}
}

// Register adds a single tool spec. Duplicate names and missing executors
// are configuration errors.
func (c *Catalog) Register(spec ToolSpec) error {
	name := spec.Definition.Name
	if name == "" {
		return fmt.Errorf("catalog: tool spec has empty name")
	}
	if spec.Execute == nil {
		return fmt.Errorf("catalog: tool %q has no executor", name)
	}
	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("catalog: tool %q already registered", name)
	}
	c.entries[name] = spec
	c.order = append(c.order, name)
	return nil
}

// Add registers every spec of a toolset.
func (c *Catalog) Add(ts Toolset) error {
	for _, spec := range ts.Specs() {
		if err := c.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// Lookup resolves a tool by name.
func (c *Catalog) Lookup(name string) (ToolSpec, bool) {
	spec, ok := c.entries[name]
	return spec, ok
}

// Risk returns the risk tier for a tool name.
func (c *Catalog) Risk(name string) (RiskTier, bool) {
	spec, ok := c.entries[name]
	return spec.Risk, ok
}

// Definitions returns all tool definitions in registration order, for
// inclusion in model requests.
func (c *Catalog) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(c.order))
	for _, name := range c.order {
		defs = append(defs, c.entries[name].Definition)
	}
	return defs
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int { return len(c.order) }
