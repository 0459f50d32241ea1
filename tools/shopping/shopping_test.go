package shopping

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
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

func TestRiskTiers(t *testing.T) {
	want := map[string]steward.RiskTier{
		"shopping_list":   steward.RiskRead,
		"shopping_add":    steward.RiskLowWrite,
		"shopping_remove": steward.RiskLowWrite,
		"shopping_order":  steward.RiskHighWrite,
		"shopping_clear":  steward.RiskIrreversible,
	}
	for _, spec := range New().Specs() {
		if spec.Risk != want[spec.Definition.Name] {
			t.Errorf("%s: risk = %v, want %v", spec.Definition.Name, spec.Risk, want[spec.Definition.Name])
		}
	}
}

func TestAddAndList(t *testing.T) {
	tool := New()
	if _, err := execSpec(t, tool, "shopping_add", `{"name": "Timber", "quantity": 4}`); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := execSpec(t, tool, "shopping_add", `{"name": "timber", "quantity": 2}`); err != nil {
		t.Fatalf("add: %v", err)
	}
	items := tool.Items()
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 merged entry", len(items))
	}
	if items[0].Name != "timber" || items[0].Quantity != 6 {
		t.Errorf("items[0] = %+v, want 6 x timber", items[0])
	}
}

func TestAddDefaultsQuantity(t *testing.T) {
	tool := New()
	if _, err := execSpec(t, tool, "shopping_add", `{"name": "wheat"}`); err != nil {
		t.Fatalf("add: %v", err)
	}
	if items := tool.Items(); items[0].Quantity != 1 {
		t.Errorf("quantity = %g, want 1", items[0].Quantity)
	}
}

func TestRemove(t *testing.T) {
	tool := New()
	execSpec(t, tool, "shopping_add", `{"name": "wheat"}`)

	res, err := execSpec(t, tool, "shopping_remove", `{"name": "wheat"}`)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("remove error: %s", res.Error)
	}
	if len(tool.Items()) != 0 {
		t.Error("list not empty after remove")
	}

	res, err = execSpec(t, tool, "shopping_remove", `{"name": "wheat"}`)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if res.Error == "" {
		t.Error("expected a tool-level error removing a missing item")
	}
}

func TestOrderEmptiesList(t *testing.T) {
	tool := New()
	execSpec(t, tool, "shopping_add", `{"name": "timber", "quantity": 4}`)

	res, err := execSpec(t, tool, "shopping_order", `{}`)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if !strings.Contains(res.Content, "order-") {
		t.Errorf("content = %q, want an order reference", res.Content)
	}
	if len(tool.Items()) != 0 {
		t.Error("list not emptied after order")
	}
}

func TestOrderEmptyList(t *testing.T) {
	res, err := execSpec(t, New(), "shopping_order", `{}`)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if res.Error == "" {
		t.Error("expected a tool-level error ordering an empty list")
	}
}

func TestOrderBackendFailureKeepsList(t *testing.T) {
	tool := New(WithOrderer(failingOrderer{}))
	execSpec(t, tool, "shopping_add", `{"name": "timber"}`)

	_, err := execSpec(t, tool, "shopping_order", `{}`)
	if err == nil {
		t.Fatal("expected the backend error to propagate")
	}
	if len(tool.Items()) != 1 {
		t.Error("list should be intact after a failed order")
	}
}

func TestClear(t *testing.T) {
	tool := New()
	execSpec(t, tool, "shopping_add", `{"name": "timber"}`)
	execSpec(t, tool, "shopping_add", `{"name": "wheat"}`)

	res, err := execSpec(t, tool, "shopping_clear", `{}`)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if !strings.Contains(res.Content, "2") {
		t.Errorf("content = %q, want cleared count", res.Content)
	}
	if len(tool.Items()) != 0 {
		t.Error("list not empty after clear")
	}
}

func TestMissingNameIsPermanent(t *testing.T) {
	_, err := execSpec(t, New(), "shopping_add", `{}`)
	if err == nil {
		t.Fatal("expected an error for a missing name")
	}
	if steward.DefaultClassify(err) != steward.ClassPermanent {
		t.Errorf("classify = retryable, want permanent")
	}
}

type failingOrderer struct{}

func (failingOrderer) PlaceOrder(context.Context, []Item) (string, error) {
	return "", errors.New("order backend unavailable")
}
