package planner

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/config"
	"github.com/sentinel-agent/sentinel/internal/provider"

	"github.com/sentinel-agent/sentinel/internal/llmrouter"
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

func newTestRouter(t *testing.T, chat func(req provider.ChatRequest) (*provider.ChatResponse, error)) *llmrouter.Router {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	store := budget.NewStore(db, decimal.NewFromFloat(1000), nil)
	if err := store.EnsureConfig(context.Background()); err != nil {
		t.Fatalf("ensure config: %v", err)
	}

	routerCfg := config.RouterConfig{
		Tiers: map[string][]config.RouterCandidate{
			"level1":     {{Provider: "P", Profile: "P", CostClass: "medium"}},
			"level2":     {{Provider: "P", Profile: "P", CostClass: "medium"}},
			"level3":     {{Provider: "P", Profile: "P", CostClass: "medium"}},
			"local_only": {{Provider: "P", Profile: "P", CostClass: "free"}},
		},
	}
	profiles := map[string]config.LLMProviderConfig{
		"P": {Provider: "acme", Model: "m", APIKey: "key"},
	}
	fake := &fakeChatProvider{chat: chat}
	factory := func(config.LLMProviderConfig) (provider.Provider, error) { return fake, nil }
	return llmrouter.New(routerCfg, profiles, store, nil, factory)
}

type fakeChatProvider struct {
	chat func(req provider.ChatRequest) (*provider.ChatResponse, error)
}

func (f *fakeChatProvider) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	return f.chat(req)
}

func isTriagePrompt(systemPrompt string) bool {
	return strings.Contains(systemPrompt, "Decide how much attention this iteration needs")
}

func TestPlannerEscalatesAfterConsecutiveTriageOnly(t *testing.T) {
	fullPlanCalls := 0
	router := newTestRouter(t, func(req provider.ChatRequest) (*provider.ChatResponse, error) {
		if isTriagePrompt(req.SystemPrompt) {
			return &provider.ChatResponse{Content: `{"complexity":"idle","tier":"local_only","reason":"nothing to do","needs_full_plan":false,"quick_action":{"status_message":"idling","sleep_seconds":30}}`}, nil
		}
		fullPlanCalls++
		return &provider.ChatResponse{Content: `{"thinking":"forced full plan","actions":[]}`}, nil
	})

	p := New(router, nil)
	for i := 0; i < 4; i++ {
		if _, _, err := p.Plan(context.Background(), PromptInputs{}, false); err != nil {
			t.Fatalf("plan iteration %d: %v", i, err)
		}
	}
	if fullPlanCalls != 0 {
		t.Fatalf("expected no full-plan calls in first 4 idle iterations, got %d", fullPlanCalls)
	}

	if _, _, err := p.Plan(context.Background(), PromptInputs{}, false); err != nil {
		t.Fatalf("plan iteration 5: %v", err)
	}
	if fullPlanCalls != 1 {
		t.Fatalf("expected escalation to force a full-plan call on the 5th consecutive idle iteration, got %d calls", fullPlanCalls)
	}
}

func TestPlannerForcesFullPlanWhenChatPending(t *testing.T) {
	fullPlanCalls := 0
	router := newTestRouter(t, func(req provider.ChatRequest) (*provider.ChatResponse, error) {
		if isTriagePrompt(req.SystemPrompt) {
			return &provider.ChatResponse{Content: `{"complexity":"low","tier":"level2","reason":"chat pending","needs_full_plan":false}`}, nil
		}
		fullPlanCalls++
		return &provider.ChatResponse{Content: `{"thinking":"replying","actions":[],"chat_reply":"hello"}`}, nil
	})

	p := New(router, nil)
	plan, _, err := p.Plan(context.Background(), PromptInputs{PendingChatCount: 1, LastChatMessage: "hi"}, false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if fullPlanCalls != 1 {
		t.Fatalf("expected full plan to run immediately when chat is pending, got %d calls", fullPlanCalls)
	}
	if plan.ChatReply != "hello" {
		t.Fatalf("expected chat_reply to propagate, got %q", plan.ChatReply)
	}
}

func TestPlannerSurfacesStuckLoopWarning(t *testing.T) {
	router := newTestRouter(t, func(req provider.ChatRequest) (*provider.ChatResponse, error) {
		if isTriagePrompt(req.SystemPrompt) {
			return &provider.ChatResponse{Content: `{"complexity":"medium","tier":"level2","reason":"repeat check","needs_full_plan":true}`}, nil
		}
		return &provider.ChatResponse{Content: `{"thinking":"checking","actions":[{"tool":"check_status","parameters":{"target":"providers"}}]}`}, nil
	})

	p := New(router, nil)
	var warning string
	for i := 0; i < 3; i++ {
		_, w, err := p.Plan(context.Background(), PromptInputs{}, false)
		if err != nil {
			t.Fatalf("plan iteration %d: %v", i, err)
		}
		warning = w
	}
	if !strings.Contains(warning, "STUCK LOOP DETECTED") {
		t.Fatalf("expected stuck loop warning on 3rd identical full plan, got %q", warning)
	}
}
