package llmrouter

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/config"
	"github.com/sentinel-agent/sentinel/internal/provider"
)

const testSchema = `
CREATE TABLE budget_config (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	monthly_cap_usd TEXT NOT NULL,
	current_month TEXT NOT NULL,
	current_month_total TEXT NOT NULL
);
CREATE TABLE provider_balance (
	provider TEXT PRIMARY KEY,
	known_balance TEXT,
	currency TEXT NOT NULL,
	tier TEXT NOT NULL,
	spent_tracked TEXT NOT NULL,
	balance_updated_at TEXT,
	notes TEXT
);
CREATE TABLE budget_usage (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd TEXT NOT NULL,
	task_description TEXT
);
`

func newTestBudget(t *testing.T, cap float64) *budget.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	store := budget.NewStore(db, decimal.NewFromFloat(cap), nil)
	if err := store.EnsureConfig(context.Background()); err != nil {
		t.Fatalf("ensure config: %v", err)
	}
	return store
}

type fakeProvider struct {
	name string
	err  error
	resp *provider.ChatResponse
}

func (f *fakeProvider) Chat(_ context.Context, _ provider.ChatRequest) (*provider.ChatResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func testRouterConfig() config.RouterConfig {
	return config.RouterConfig{
		Tiers: map[string][]config.RouterCandidate{
			"level1": {
				{Provider: "A", Profile: "A", CostClass: "medium"},
				{Provider: "B", Profile: "B", CostClass: "medium"},
				{Provider: "C", Profile: "C", CostClass: "free"},
			},
			"level2":     {{Provider: "C", Profile: "C", CostClass: "free"}},
			"level3":     {{Provider: "C", Profile: "C", CostClass: "free"}},
			"local_only": {{Provider: "local", Profile: "local", CostClass: "free"}},
		},
	}
}

func testProfiles() map[string]config.LLMProviderConfig {
	return map[string]config.LLMProviderConfig{
		"A":     {Provider: "acme", Model: "m-a", APIKey: "key-a"},
		"B":     {Provider: "acme", Model: "m-b", APIKey: "key-b"},
		"C":     {Provider: "free-co", Model: "m-c", APIKey: "key-c"},
		"local": {Provider: "ollama", Model: "m-local"},
	}
}

func TestRouterFallsThroughToWorkingProvider(t *testing.T) {
	store := newTestBudget(t, 100)
	providers := map[string]provider.Provider{
		"A": &fakeProvider{err: errors.New("boom")},
		"B": &fakeProvider{err: errors.New("boom")},
		"C": &fakeProvider{resp: &provider.ChatResponse{Content: "hi", Usage: provider.TokenUsage{InputTokens: 10, OutputTokens: 5}}},
	}
	factory := func(cfg config.LLMProviderConfig) (provider.Provider, error) {
		for name, prof := range testProfiles() {
			if prof == cfg {
				return providers[name], nil
			}
		}
		return nil, errors.New("unknown profile")
	}
	r := New(testRouterConfig(), testProfiles(), store, nil, factory)

	result, err := r.Complete(context.Background(), Request{Tier: budget.TierLevel1, Task: "test"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Provider != "C" {
		t.Fatalf("expected provider C to win, got %s", result.Provider)
	}

	status, err := store.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	foundA, foundB := false, false
	for _, p := range status.Providers {
		if p.Provider == "A" && !p.SpentTracked.IsZero() {
			foundA = true
		}
		if p.Provider == "B" && !p.SpentTracked.IsZero() {
			foundB = true
		}
	}
	if foundA || foundB {
		t.Fatalf("expected no usage recorded for failing providers A/B")
	}
}

func TestRouterAllProvidersFailed(t *testing.T) {
	store := newTestBudget(t, 100)
	factory := func(config.LLMProviderConfig) (provider.Provider, error) {
		return &fakeProvider{err: errors.New("down")}, nil
	}
	r := New(testRouterConfig(), testProfiles(), store, nil, factory)

	_, err := r.Complete(context.Background(), Request{Tier: budget.TierLocalOnly})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
}

func TestRouterRespectsMinTierFloor(t *testing.T) {
	store := newTestBudget(t, 0.0001) // forces recommended tier down to local_only
	// Seeded paid balances and free-tier providers would otherwise keep the
	// recommendation at level1/level2: zero every balance and mark all paid.
	zero := decimal.Zero
	paid := budget.ProviderPaid
	for _, p := range []string{"anthropic", "openai", "mistral", "tavily", "ollama", "grok"} {
		if err := store.UpdateProviderBalance(context.Background(), p, &zero, &paid, nil, nil, true); err != nil {
			t.Fatalf("update balance %s: %v", p, err)
		}
	}
	factory := func(cfg config.LLMProviderConfig) (provider.Provider, error) {
		return &fakeProvider{resp: &provider.ChatResponse{Content: "ok"}}, nil
	}
	r := New(testRouterConfig(), testProfiles(), store, nil, factory)
	minTier := budget.TierLevel2

	result, err := r.Complete(context.Background(), Request{Tier: budget.TierLevel1, MinTier: &minTier})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Tier == budget.TierLocalOnly {
		t.Fatalf("expected tier floor to prevent local_only, got %s", result.Tier)
	}
}

func TestRouterSkipsUnavailableProvider(t *testing.T) {
	store := newTestBudget(t, 100)
	profiles := testProfiles()
	noCreds := profiles["A"]
	noCreds.APIKey = ""
	profiles["A"] = noCreds

	called := map[string]bool{}
	factory := func(cfg config.LLMProviderConfig) (provider.Provider, error) {
		called[cfg.Model] = true
		if cfg.Model == "m-a" {
			t.Fatalf("should never build a provider for an unavailable candidate")
		}
		return &fakeProvider{resp: &provider.ChatResponse{Content: "ok"}}, nil
	}
	r := New(testRouterConfig(), profiles, store, nil, factory)

	if _, err := r.Complete(context.Background(), Request{Tier: budget.TierLevel1}); err != nil {
		t.Fatalf("complete: %v", err)
	}
}
