// Package budget tracks per-provider balances, monthly spend, and pricing
// lookups, and recommends an LLM tier based on remaining budget.
package budget

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one of the LLM router's cost tiers, ordered cheapest-capability
// (local_only) to richest (level1).
type Tier string

const (
	TierLevel1    Tier = "level1"
	TierLevel2    Tier = "level2"
	TierLevel3    Tier = "level3"
	TierLocalOnly Tier = "local_only"
)

// tierRank orders tiers from richest (0) to cheapest (3) for clamping.
var tierRank = map[Tier]int{
	TierLevel1:    0,
	TierLevel2:    1,
	TierLevel3:    2,
	TierLocalOnly: 3,
}

// Rank returns the tier's position in the richest-to-cheapest order.
// Unknown tiers rank as the cheapest.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return tierRank[TierLocalOnly]
}

// ProviderTier classifies how a provider is billed.
type ProviderTier string

const (
	ProviderPaid    ProviderTier = "paid"
	ProviderFree    ProviderTier = "free"
	ProviderUnknown ProviderTier = "unknown"
)

// Currency is either a monetary ISO code or a unit-based provider currency
// such as "credits" or "requests".
type Currency string

const (
	CurrencyUSD      Currency = "USD"
	CurrencyEUR      Currency = "EUR"
	CurrencyGBP      Currency = "GBP"
	CurrencyCredits  Currency = "credits"
	CurrencyRequests Currency = "requests"
)

// IsMonetary reports whether c is tracked in USD/EUR/GBP rather than units.
func (c Currency) IsMonetary() bool {
	switch c {
	case CurrencyUSD, CurrencyEUR, CurrencyGBP:
		return true
	default:
		return false
	}
}

// Config is the singleton BudgetConfig row: the monthly cap and the
// running total for the current calendar month.
type Config struct {
	MonthlyCap        decimal.Decimal
	CurrentMonth      string // "YYYY-MM"
	CurrentMonthTotal decimal.Decimal
}

// ProviderBalance is one row per LLM/tool provider.
type ProviderBalance struct {
	Provider         string
	KnownBalance     *decimal.Decimal
	Currency         Currency
	Tier             ProviderTier
	SpentTracked     decimal.Decimal
	BalanceUpdatedAt *time.Time
	Notes            string
}

// EstimatedRemaining returns KnownBalance - SpentTracked floored at zero,
// or nil if KnownBalance is unset.
func (p ProviderBalance) EstimatedRemaining() *decimal.Decimal {
	if p.KnownBalance == nil {
		return nil
	}
	remaining := p.KnownBalance.Sub(p.SpentTracked)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &remaining
}

// UsageRecord is one append-only entry in the usage log.
type UsageRecord struct {
	Timestamp       time.Time
	Provider        string
	Model           string
	InputTokens     int
	OutputTokens    int
	CostUSD         decimal.Decimal
	TaskDescription string
}

// BalanceSource records which term dominated Status.Remaining: the
// user-configured monthly cap, or the summed per-provider balances.
type BalanceSource string

const (
	SourceConfig    BalanceSource = "config"
	SourceProviders BalanceSource = "providers"
)

// Status summarizes overall spend for display and tier recommendation.
type Status struct {
	MonthlyCap  decimal.Decimal
	Spent       decimal.Decimal
	Remaining   decimal.Decimal
	PercentUsed decimal.Decimal
	HasFreeTier bool
	Source      BalanceSource
	Providers   []ProviderBalance
}
