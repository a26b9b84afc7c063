package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// defaultProviders seeds the provider_balance table on first run.
type seedProvider struct {
	provider     string
	knownBalance *float64
	tier         ProviderTier
	currency     Currency
	notes        string
}

func floatPtr(v float64) *float64 { return &v }

var defaultProviders = []seedProvider{
	{"anthropic", floatPtr(11.71), ProviderPaid, CurrencyUSD, "Prepaid credits"},
	{"openai", floatPtr(18.85), ProviderPaid, CurrencyUSD, "Prepaid credits"},
	{"mistral", nil, ProviderFree, CurrencyUSD, "Free tier — limits unknown"},
	{"tavily", floatPtr(1000), ProviderFree, CurrencyCredits, "Monthly plan — 1000 credits/month"},
	{"ollama", nil, ProviderFree, CurrencyUSD, "Local — no cost"},
	{"grok", nil, ProviderFree, CurrencyUSD, "Free tier — limits unknown"},
}

// Store is the durable BudgetStore: a monthly cap config row, one
// ProviderBalance per provider, and an append-only UsageRecord log,
// backed by a relational database. Every public method serializes
// its mutation inside a single transaction.
type Store struct {
	db       *sql.DB
	log      *slog.Logger
	mu       sync.Mutex
	nowFn    func() time.Time
	cap      decimal.Decimal
	dailyCap decimal.Decimal
}

// NewStore wraps an opened *sql.DB whose schema has already been migrated
// (see internal/state/migrate.go). The given monthly cap is written to the
// singleton config row by EnsureConfig if that row does not already exist.
func NewStore(db *sql.DB, monthlyCapUSD decimal.Decimal, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger, nowFn: time.Now, cap: monthlyCapUSD}
}

// SetDailyCap enables the per-day spend gate consulted by CanSpend. A
// zero cap disables it.
func (s *Store) SetDailyCap(capUSD decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyCap = capUSD
}

func (s *Store) now() time.Time {
	if s.nowFn != nil {
		return s.nowFn()
	}
	return time.Now()
}

// EnsureConfig idempotently creates the singleton BudgetConfig and seeds
// the default provider set. Reconciles missing providers without
// overwriting existing user-set balances.
func (s *Store) EnsureConfig(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ensure_config tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM budget_config WHERE id = 1`).Scan(&exists); err != nil {
		return fmt.Errorf("check budget_config: %w", err)
	}
	if exists == 0 {
		month := s.now().UTC().Format("2006-01")
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO budget_config (id, monthly_cap_usd, current_month, current_month_total) VALUES (1, ?, ?, ?)`,
			s.cap.String(), month, decimal.Zero.String()); err != nil {
			return fmt.Errorf("insert budget_config: %w", err)
		}
	}

	var providerCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM provider_balance`).Scan(&providerCount); err != nil {
		return fmt.Errorf("count provider_balance: %w", err)
	}
	if providerCount == 0 {
		for _, p := range defaultProviders {
			var balanceStr *string
			var updatedAt *string
			if p.knownBalance != nil {
				b := decimal.NewFromFloat(*p.knownBalance).String()
				balanceStr = &b
				u := s.now().UTC().Format(time.RFC3339)
				updatedAt = &u
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO provider_balance (provider, known_balance, currency, tier, spent_tracked, balance_updated_at, notes)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				p.provider, balanceStr, string(p.currency), string(p.tier), decimal.Zero.String(), updatedAt, p.notes); err != nil {
				return fmt.Errorf("seed provider %s: %w", p.provider, err)
			}
		}
		s.log.Info("provider_balances_seeded", "count", len(defaultProviders))
	} else {
		for _, p := range defaultProviders {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO provider_balance (provider, known_balance, currency, tier, spent_tracked, balance_updated_at, notes)
				 VALUES (?, NULL, ?, ?, ?, NULL, ?)`,
				p.provider, string(p.currency), string(p.tier), decimal.Zero.String(), p.notes); err != nil {
				return fmt.Errorf("reconcile provider %s: %w", p.provider, err)
			}
		}
	}

	return tx.Commit()
}

// RecordUsage estimates cost from the pricing table, appends a
// UsageRecord, atomically rolls the monthly total (resetting it on month
// change), and updates the provider's spent_tracked accumulator. If the
// provider has no balance row yet, one is auto-created with tier=unknown
// rather than failing the call.
func (s *Store) RecordUsage(ctx context.Context, provider, model string, inputTokens, outputTokens int, taskDescription string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cost := EstimateCost(provider, model, inputTokens, outputTokens)
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("begin record_usage tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO budget_usage (timestamp, provider, model, input_tokens, output_tokens, cost_usd, task_description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		now.UTC().Format(time.RFC3339), provider, model, inputTokens, outputTokens, cost.String(), taskDescription); err != nil {
		return decimal.Zero, fmt.Errorf("insert usage: %w", err)
	}

	var monthTotalStr, currentMonth string
	if err := tx.QueryRowContext(ctx, `SELECT current_month_total, current_month FROM budget_config WHERE id = 1`).
		Scan(&monthTotalStr, &currentMonth); err != nil {
		return decimal.Zero, fmt.Errorf("load budget_config: %w", err)
	}
	monthTotal, err := decimal.NewFromString(monthTotalStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse month total: %w", err)
	}

	thisMonth := now.UTC().Format("2006-01")
	if currentMonth != thisMonth {
		monthTotal = decimal.Zero
		s.log.Info("budget_month_reset", "month", thisMonth)
	}
	monthTotal = monthTotal.Add(cost)

	if _, err := tx.ExecContext(ctx,
		`UPDATE budget_config SET current_month = ?, current_month_total = ? WHERE id = 1`,
		thisMonth, monthTotal.String()); err != nil {
		return decimal.Zero, fmt.Errorf("update budget_config: %w", err)
	}

	var existingCurrency, existingSpent string
	err = tx.QueryRowContext(ctx, `SELECT currency, spent_tracked FROM provider_balance WHERE provider = ?`, provider).
		Scan(&existingCurrency, &existingSpent)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provider_balance (provider, known_balance, currency, tier, spent_tracked, balance_updated_at, notes)
			 VALUES (?, NULL, ?, 'unknown', ?, NULL, 'Auto-created from usage')`,
			provider, string(CurrencyUSD), cost.String()); err != nil {
			return decimal.Zero, fmt.Errorf("auto-create provider %s: %w", provider, err)
		}
	case err != nil:
		return decimal.Zero, fmt.Errorf("load provider %s: %w", provider, err)
	default:
		spent, perr := decimal.NewFromString(existingSpent)
		if perr != nil {
			return decimal.Zero, fmt.Errorf("parse spent_tracked: %w", perr)
		}
		if Currency(existingCurrency).IsMonetary() {
			spent = spent.Add(cost)
		} else {
			spent = spent.Add(decimal.NewFromInt(1))
		}
		if _, err := tx.ExecContext(ctx, `UPDATE provider_balance SET spent_tracked = ? WHERE provider = ?`,
			spent.String(), provider); err != nil {
			return decimal.Zero, fmt.Errorf("update spent_tracked: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, fmt.Errorf("commit record_usage: %w", err)
	}

	s.log.Info("budget_usage", "provider", provider, "model", model, "cost", cost.String(), "month_total", monthTotal.String())
	return cost, nil
}

// GetStatus returns the overall spend summary and per-provider breakdown.
func (s *Store) GetStatus(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getStatusLocked(ctx)
}

func (s *Store) getStatusLocked(ctx context.Context) (Status, error) {
	var capStr, monthTotalStr, currentMonth string
	err := s.db.QueryRowContext(ctx, `SELECT monthly_cap_usd, current_month, current_month_total FROM budget_config WHERE id = 1`).
		Scan(&capStr, &currentMonth, &monthTotalStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Status{MonthlyCap: s.cap, Remaining: s.cap, Source: SourceConfig}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("load budget_config: %w", err)
	}

	cap, _ := decimal.NewFromString(capStr)
	monthTotal, _ := decimal.NewFromString(monthTotalStr)

	thisMonth := s.now().UTC().Format("2006-01")
	spent := monthTotal
	if currentMonth != thisMonth {
		spent = decimal.Zero
	}

	rows, err := s.db.QueryContext(ctx, `SELECT provider, known_balance, currency, tier, spent_tracked, balance_updated_at, notes FROM provider_balance ORDER BY provider`)
	if err != nil {
		return Status{}, fmt.Errorf("query provider_balance: %w", err)
	}
	defer rows.Close()

	var providers []ProviderBalance
	totalAvailable := decimal.Zero
	hasFree := false
	for rows.Next() {
		pb, err := scanProviderBalance(rows)
		if err != nil {
			return Status{}, err
		}
		if pb.Tier == ProviderFree {
			hasFree = true
		}
		if remaining := pb.EstimatedRemaining(); remaining != nil && pb.Currency.IsMonetary() {
			totalAvailable = totalAvailable.Add(*remaining)
		}
		providers = append(providers, pb)
	}
	if err := rows.Err(); err != nil {
		return Status{}, err
	}

	fromConfig := cap.Sub(spent)
	if fromConfig.IsNegative() {
		fromConfig = decimal.Zero
	}

	var remaining, effectiveCap decimal.Decimal
	var source BalanceSource
	if totalAvailable.IsPositive() && totalAvailable.GreaterThanOrEqual(fromConfig) {
		remaining = totalAvailable
		effectiveCap = totalAvailable.Add(spent)
		source = SourceProviders
	} else {
		remaining = fromConfig
		effectiveCap = cap
		source = SourceConfig
	}

	percentUsed := decimal.Zero
	if effectiveCap.IsPositive() {
		percentUsed = spent.Div(effectiveCap).Mul(decimal.NewFromInt(100))
	}

	return Status{
		MonthlyCap:  effectiveCap,
		Spent:       spent,
		Remaining:   remaining,
		PercentUsed: percentUsed,
		HasFreeTier: hasFree,
		Source:      source,
		Providers:   providers,
	}, nil
}

// DailySpendUSD sums cost_usd from budget_usage for the UTC calendar day
// containing day. CanSpend consults it to enforce the configured daily
// cap at a finer granularity than GetStatus's monthly total.
func (s *Store) DailySpendUSD(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dailySpendLocked(ctx, day)
}

func (s *Store) dailySpendLocked(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var totalStr sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(CAST(cost_usd AS REAL)) FROM budget_usage WHERE timestamp >= ? AND timestamp < ?`,
		start.Format(time.RFC3339), end.Format(time.RFC3339)).Scan(&totalStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum daily budget_usage: %w", err)
	}
	if !totalStr.Valid {
		return decimal.Zero, nil
	}
	total, err := decimal.NewFromString(totalStr.String)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse daily spend total: %w", err)
	}
	return total, nil
}

func scanProviderBalance(rows *sql.Rows) (ProviderBalance, error) {
	var provider, currency, tier, spentStr, notes string
	var knownBalanceStr, updatedAtStr sql.NullString
	if err := rows.Scan(&provider, &knownBalanceStr, &currency, &tier, &spentStr, &updatedAtStr, &notes); err != nil {
		return ProviderBalance{}, fmt.Errorf("scan provider_balance: %w", err)
	}
	spent, _ := decimal.NewFromString(spentStr)
	pb := ProviderBalance{
		Provider:     provider,
		Currency:     Currency(currency),
		Tier:         ProviderTier(tier),
		SpentTracked: spent,
		Notes:        notes,
	}
	if knownBalanceStr.Valid {
		b, err := decimal.NewFromString(knownBalanceStr.String)
		if err == nil {
			pb.KnownBalance = &b
		}
	}
	if updatedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, updatedAtStr.String)
		if err == nil {
			pb.BalanceUpdatedAt = &t
		}
	}
	return pb, nil
}

// GetProviderStatus returns a single provider's balance, or
// (ProviderBalance{}, false, nil) if no such provider exists.
func (s *Store) GetProviderStatus(ctx context.Context, provider string) (ProviderBalance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT provider, known_balance, currency, tier, spent_tracked, balance_updated_at, notes FROM provider_balance WHERE provider = ?`, provider)
	var p, currency, tier, spentStr, notes string
	var knownBalanceStr, updatedAtStr sql.NullString
	err := row.Scan(&p, &knownBalanceStr, &currency, &tier, &spentStr, &updatedAtStr, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return ProviderBalance{}, false, nil
	}
	if err != nil {
		return ProviderBalance{}, false, fmt.Errorf("load provider %s: %w", provider, err)
	}
	spent, _ := decimal.NewFromString(spentStr)
	pb := ProviderBalance{Provider: p, Currency: Currency(currency), Tier: ProviderTier(tier), SpentTracked: spent, Notes: notes}
	if knownBalanceStr.Valid {
		if b, err := decimal.NewFromString(knownBalanceStr.String); err == nil {
			pb.KnownBalance = &b
		}
	}
	if updatedAtStr.Valid {
		if t, err := time.Parse(time.RFC3339, updatedAtStr.String); err == nil {
			pb.BalanceUpdatedAt = &t
		}
	}
	return pb, true, nil
}

// UpdateProviderBalance sets a provider's known balance/tier/currency/notes.
// Passing resetSpending clears spent_tracked when a new known_balance is
// supplied (supplemented feature #1).
func (s *Store) UpdateProviderBalance(ctx context.Context, provider string, knownBalance *decimal.Decimal, tier *ProviderTier, currency *Currency, notes *string, resetSpending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update_provider_balance tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM provider_balance WHERE provider = ?`, provider).Scan(&exists); err != nil {
		return fmt.Errorf("check provider %s: %w", provider, err)
	}
	if exists == 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO provider_balance (provider, known_balance, currency, tier, spent_tracked, balance_updated_at, notes)
			 VALUES (?, NULL, ?, 'unknown', ?, NULL, '')`,
			provider, string(CurrencyUSD), decimal.Zero.String()); err != nil {
			return fmt.Errorf("create provider %s: %w", provider, err)
		}
	}

	if knownBalance != nil {
		now := s.now().UTC().Format(time.RFC3339)
		if resetSpending {
			if _, err := tx.ExecContext(ctx, `UPDATE provider_balance SET known_balance = ?, balance_updated_at = ?, spent_tracked = ? WHERE provider = ?`,
				knownBalance.String(), now, decimal.Zero.String(), provider); err != nil {
				return fmt.Errorf("update balance %s: %w", provider, err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE provider_balance SET known_balance = ?, balance_updated_at = ? WHERE provider = ?`,
				knownBalance.String(), now, provider); err != nil {
				return fmt.Errorf("update balance %s: %w", provider, err)
			}
		}
	}
	if tier != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE provider_balance SET tier = ? WHERE provider = ?`, string(*tier), provider); err != nil {
			return fmt.Errorf("update tier %s: %w", provider, err)
		}
	}
	if currency != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE provider_balance SET currency = ? WHERE provider = ?`, string(*currency), provider); err != nil {
			return fmt.Errorf("update currency %s: %w", provider, err)
		}
	}
	if notes != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE provider_balance SET notes = ? WHERE provider = ?`, *notes, provider); err != nil {
			return fmt.Errorf("update notes %s: %w", provider, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update_provider_balance: %w", err)
	}
	s.log.Info("provider_balance_updated", "provider", provider)
	return nil
}

// AddProvider upserts a provider row with the given tier, currency, and
// notes, leaving any existing known balance and spend tracking intact.
func (s *Store) AddProvider(ctx context.Context, provider string, tier ProviderTier, currency Currency, notes string) error {
	return s.UpdateProviderBalance(ctx, provider, nil, &tier, &currency, &notes, false)
}

// CanSpend reports whether estimatedCost fits within the remaining
// monthly budget and, when a daily cap is set, today's remaining daily
// allowance.
func (s *Store) CanSpend(ctx context.Context, estimatedCost decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.getStatusLocked(ctx)
	if err != nil {
		return false, err
	}
	if status.Remaining.LessThan(estimatedCost) {
		return false, nil
	}
	if s.dailyCap.IsPositive() {
		daily, err := s.dailySpendLocked(ctx, s.now())
		if err != nil {
			return false, err
		}
		if daily.Add(estimatedCost).GreaterThan(s.dailyCap) {
			return false, nil
		}
	}
	return true, nil
}

// GetRecommendedTier computes the router tier recommendation from the
// remaining budget. Any provider with tier=free present floors the
// recommendation at level2 regardless of paid remaining: an exhausted
// paid budget should push work onto free candidates, not silence the
// agent.
func (s *Store) GetRecommendedTier(ctx context.Context) (Tier, error) {
	s.mu.Lock()
	status, err := s.getStatusLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	tier := recommendFromStatus(status)
	if status.HasFreeTier && tier.Rank() > TierLevel2.Rank() {
		tier = TierLevel2
	}
	return tier, nil
}

func recommendFromStatus(status Status) Tier {
	remaining := status.Remaining
	pct := status.PercentUsed

	one := decimal.NewFromInt(1)
	five := decimal.NewFromInt(5)
	fifteen := decimal.NewFromInt(15)
	eighty := decimal.NewFromInt(80)
	sixty := decimal.NewFromInt(60)

	switch {
	case remaining.LessThan(one):
		return TierLocalOnly
	case remaining.LessThan(five) || pct.GreaterThanOrEqual(eighty):
		return TierLevel3
	case remaining.LessThan(fifteen) || pct.GreaterThanOrEqual(sixty):
		return TierLevel2
	default:
		return TierLevel1
	}
}
