package production

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stewardhq/steward"
)

func execSpec(t *testing.T, tool *Tool, name string, args string) (steward.ToolResult, error) {
	t.Helper()
	for _, spec := range tool.Specs() {
		if spec.Definition.Name == name {
			return spec.Execute(context.Background(), json.RawMessage(args))
		}
	}
	t.Fatalf("no spec named %q", name)
	return steward.ToolResult{}, nil
}

func TestSpecsAllReadTier(t *testing.T) {
	for _, spec := range New().Specs() {
		if spec.Risk != steward.RiskRead {
			t.Errorf("%s: risk = %v, want read", spec.Definition.Name, spec.Risk)
		}
	}
}

func TestRequirementsExpandsRecipeTree(t *testing.T) {
	// copper wire -> 2 copper ingot -> 6 copper ore per unit.
	res, err := execSpec(t, New(), "production_requirements", `{"item": "copper wire", "quantity": 10}`)
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	var out struct {
		Inputs []Ingredient `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Inputs) != 1 {
		t.Fatalf("got %d raw inputs, want 1: %+v", len(out.Inputs), out.Inputs)
	}
	if out.Inputs[0].Item != "copper ore" || out.Inputs[0].Quantity != 60 {
		t.Errorf("inputs = %+v, want 60 copper ore", out.Inputs)
	}
}

func TestRequirementsMultiInput(t *testing.T) {
	res, err := execSpec(t, New(), "production_requirements", `{"item": "bread"}`)
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	var out struct {
		Inputs []Ingredient `json:"inputs"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]float64{"water": 1, "wheat": 6}
	if len(out.Inputs) != len(want) {
		t.Fatalf("got %d raw inputs, want %d", len(out.Inputs), len(want))
	}
	for _, in := range out.Inputs {
		if want[in.Item] != in.Quantity {
			t.Errorf("%s = %g, want %g", in.Item, in.Quantity, want[in.Item])
		}
	}
}

func TestCost(t *testing.T) {
	// 1 copper wire = 6 copper ore at 12.40 = 74.40.
	res, err := execSpec(t, New(), "production_cost", `{"item": "copper wire"}`)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	var out struct {
		TotalCost float64 `json:"total_cost"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TotalCost < 74.39 || out.TotalCost > 74.41 {
		t.Errorf("total_cost = %g, want 74.40", out.TotalCost)
	}
}

func TestUnknownItem(t *testing.T) {
	res, err := execSpec(t, New(), "production_cost", `{"item": "mystery box"}`)
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected a tool-level error for an unknown item")
	}
}

func TestRecipeCycleDetected(t *testing.T) {
	cyclic := []Recipe{
		{Output: "a", Inputs: []Ingredient{{Item: "b", Quantity: 1}}},
		{Output: "b", Inputs: []Ingredient{{Item: "a", Quantity: 1}}},
	}
	tool := New(WithRecipes(cyclic, nil))
	res, err := execSpec(t, tool, "production_requirements", `{"item": "a"}`)
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	if res.Error == "" {
		t.Fatal("expected a tool-level error for a recipe cycle")
	}
}

func TestInvalidArgsIsPermanent(t *testing.T) {
	_, err := execSpec(t, New(), "production_cost", `{"item": []}`)
	if err == nil {
		t.Fatal("expected an error for invalid arguments")
	}
	if steward.DefaultClassify(err) != steward.ClassPermanent {
		t.Errorf("classify = retryable, want permanent")
	}
}
