package menu

import (
	"context"
	"strings"
	"testing"

	"github.com/KodaTao/PluginKernel/pkg/function"
)

func TestMenu(t *testing.T) {
	registry := function.NewRegistry()
	if err := Register(registry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if registry.Count() != 2 {
		t.Errorf("Count() = %d, want 2", registry.Count())
	}

	specials, err := registry.Invoke(context.Background(), Namespace, "get_specials", nil)
	if err != nil {
		t.Fatalf("get_specials error = %v", err)
	}
	if !strings.Contains(specials.(string), "Special Soup: Clam Chowder") {
		t.Errorf("specials = %q", specials)
	}

	price, err := registry.Invoke(context.Background(), Namespace, "get_item_price", map[string]any{"menu_item": "Chai Tea"})
	if err != nil {
		t.Fatalf("get_item_price error = %v", err)
	}
	if price != "$9.99" {
		t.Errorf("price = %v", price)
	}
}

func TestMenu_RegisterTwice(t *testing.T) {
	registry := function.NewRegistry()
	if err := Register(registry); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := Register(registry); err == nil {
		t.Error("second Register() should fail with duplicate name")
	}
}
