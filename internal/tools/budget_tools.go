package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/llmrouter"
)

// BudgetStatusTool reports the monthly spend picture, per-provider
// balances, and the router's configured tier chains so the agent can
// reason about its own spending.
type BudgetStatusTool struct {
	Budget *budget.Store
	Router *llmrouter.Router
}

// Name returns the tool name.
func (t BudgetStatusTool) Name() string {
	return "budget_status"
}

// Description returns the tool description for the model.
func (t BudgetStatusTool) Description() string {
	return "Report remaining budget, per-provider balances, and available model tiers"
}

// Schema returns the JSON schema for budget_status args.
func (t BudgetStatusTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"provider": map[string]any{
				"type":        "string",
				"description": "Optional provider name to report on alone",
			},
		},
	}
}

// Permission declares default permission behavior for this tool.
func (t BudgetStatusTool) Permission() Permission {
	return AutoApprove
}

// Execute renders the budget and router picture as readable text.
func (t BudgetStatusTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if t.Budget == nil {
		return nil, fmt.Errorf("budget store is not configured")
	}

	if name, _ := args["provider"].(string); strings.TrimSpace(name) != "" {
		pb, found, err := t.Budget.GetProviderStatus(ctx, strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		if !found {
			return &ToolResult{Output: fmt.Sprintf("no provider named %q", name)}, nil
		}
		return &ToolResult{Output: formatProviderBalance(pb)}, nil
	}

	status, err := t.Budget.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Spent %s of %s this month (%s%% used), %s remaining. Free tier available: %t.\n",
		status.Spent.StringFixed(2), status.MonthlyCap.StringFixed(2),
		status.PercentUsed.StringFixed(1), status.Remaining.StringFixed(2), status.HasFreeTier)
	for _, pb := range status.Providers {
		b.WriteString(formatProviderBalance(pb))
		b.WriteString("\n")
	}

	if t.Router != nil {
		available := t.Router.GetAvailableProviders()
		fmt.Fprintf(&b, "Available providers: %s\n", strings.Join(available, ", "))
		for _, info := range t.Router.GetTierInfo() {
			names := make([]string, 0, len(info.Candidates))
			for _, c := range info.Candidates {
				names = append(names, fmt.Sprintf("%s(%s)", c.Provider, c.CostClass))
			}
			fmt.Fprintf(&b, "%s: %s\n", info.Tier, strings.Join(names, " -> "))
		}
	}

	return TruncateOutput(b.String())
}

func formatProviderBalance(pb budget.ProviderBalance) string {
	balance := "unknown"
	if pb.KnownBalance != nil {
		balance = pb.KnownBalance.StringFixed(2)
	}
	remaining := ""
	if r := pb.EstimatedRemaining(); r != nil {
		remaining = fmt.Sprintf(", est. remaining %s", r.StringFixed(2))
	}
	return fmt.Sprintf("- %s [%s, %s]: balance %s, spent %s%s",
		pb.Provider, pb.Tier, pb.Currency, balance, pb.SpentTracked.StringFixed(2), remaining)
}
