package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sentinel-agent/sentinel/internal/budget"
)

func TestFormatProviderBalance(t *testing.T) {
	known := decimal.NewFromFloat(11.71)
	line := formatProviderBalance(budget.ProviderBalance{
		Provider:     "anthropic",
		KnownBalance: &known,
		Currency:     budget.CurrencyUSD,
		Tier:         budget.ProviderPaid,
		SpentTracked: decimal.NewFromFloat(1.5),
	})
	for _, want := range []string{"anthropic", "11.71", "1.50", "est. remaining 10.21"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}

	line = formatProviderBalance(budget.ProviderBalance{
		Provider: "mistral",
		Currency: budget.CurrencyUSD,
		Tier:     budget.ProviderFree,
	})
	if !strings.Contains(line, "balance unknown") {
		t.Fatalf("expected unknown balance marker, got %q", line)
	}
}

func TestBudgetStatusToolWithoutStoreFails(t *testing.T) {
	if _, err := (BudgetStatusTool{}).Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error when budget store is not configured")
	}
}
