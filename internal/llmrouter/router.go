// Package llmrouter implements the LLMRouter: a tiered fallback chain
// across LLM providers, with budget-aware tier downgrade, free-provider
// preference, and usage accounting.
package llmrouter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/config"
	"github.com/sentinel-agent/sentinel/internal/journal"
	"github.com/sentinel-agent/sentinel/internal/provider"
)

// tierOrder is the richest-to-cheapest walk order the chain falls back
// through once a tier's candidates are exhausted.
var tierOrder = []budget.Tier{budget.TierLevel1, budget.TierLevel2, budget.TierLevel3, budget.TierLocalOnly}

// ProviderFactory builds a provider.Provider adapter from one LLM profile
// config. Swappable in tests.
type ProviderFactory func(config.LLMProviderConfig) (provider.Provider, error)

// Request is the provider-agnostic completion request the Planner issues
// to the router.
type Request struct {
	SystemPrompt string
	Messages     []provider.ChatMessage
	Tools        []provider.ToolDefinition
	Tier         budget.Tier
	MinTier      *budget.Tier
	Task         string
	Temperature  *float64
	MaxTokens    int
	PreferFree   bool
}

// Result is what the router hands back to the Planner: the raw response
// plus the provider/model/cost bookkeeping the Plan's `_response_*`
// fields surface.
type Result struct {
	Response *provider.ChatResponse
	Provider string
	Model    string
	Tier     budget.Tier
	CostUSD  decimal.Decimal
}

// ErrAllProvidersFailed is returned when the entire fallback chain from
// the effective tier through local_only was exhausted without success.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Router walks config.RouterConfig's tier chains, consulting BudgetStore
// for tier recommendation, spend gating, and usage accounting.
type Router struct {
	tiers     map[budget.Tier][]config.RouterCandidate
	profiles  map[string]config.LLMProviderConfig
	budget    *budget.Store
	journal   *journal.Journal
	factory   ProviderFactory
	providers map[string]provider.Provider // profile name -> lazily built adapter
}

// New builds a Router from the loaded router config, LLM profile map,
// BudgetStore, Journal, and a provider-construction factory.
func New(routerCfg config.RouterConfig, llmProfiles map[string]config.LLMProviderConfig, budgetStore *budget.Store, jrnl *journal.Journal, factory ProviderFactory) *Router {
	tiers := make(map[budget.Tier][]config.RouterCandidate, len(routerCfg.Tiers))
	for tier, candidates := range routerCfg.Tiers {
		tiers[budget.Tier(tier)] = candidates
	}
	return &Router{
		tiers:     tiers,
		profiles:  llmProfiles,
		budget:    budgetStore,
		journal:   jrnl,
		factory:   factory,
		providers: make(map[string]provider.Provider),
	}
}

// Complete drives the tiered fallback chain and returns the first
// successful response, recording usage against the winning candidate.
func (r *Router) Complete(ctx context.Context, req Request) (*Result, error) {
	recommended, err := r.budget.GetRecommendedTier(ctx)
	if err != nil {
		return nil, fmt.Errorf("get recommended tier: %w", err)
	}

	effective := req.Tier
	if effective == "" {
		effective = budget.TierLevel2
	}
	downgraded := false
	if recommended.Rank() > effective.Rank() {
		effective = recommended
		downgraded = true
	}
	if req.MinTier != nil && effective.Rank() > req.MinTier.Rank() {
		effective = *req.MinTier
		downgraded = false
		r.logEvent(journal.EventWarning, "tier_downgrade_clamped", map[string]any{
			"requested": string(req.Tier), "min_tier": string(*req.MinTier),
		})
	} else if downgraded {
		r.logEvent(journal.EventWarning, "tier_downgrade_clamped", map[string]any{
			"requested": string(req.Tier), "recommended": string(recommended), "effective": string(effective),
		})
	}

	status, err := r.budget.GetStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("get budget status: %w", err)
	}
	preferFree := req.PreferFree || status.Remaining.LessThan(decimal.NewFromInt(10))

	startIdx := indexOfTier(effective)
	for _, tier := range tierOrder[startIdx:] {
		candidates := r.orderedCandidates(tier, preferFree)
		for _, cand := range candidates {
			if !r.isAvailable(cand) {
				continue
			}
			if cand.CostClass != "free" {
				ok, err := r.budget.CanSpend(ctx, decimal.NewFromFloat(0.01))
				if err != nil {
					r.logEvent(journal.EventWarning, "can_spend_check_failed", map[string]any{"provider": cand.Provider, "error": err.Error()})
					continue
				}
				if !ok {
					continue
				}
			}

			result, err := r.invoke(ctx, cand, tier, req)
			if err != nil {
				r.logEvent(journal.EventWarning, "provider_candidate_failed", map[string]any{
					"provider": cand.Provider, "profile": cand.Profile, "tier": string(tier), "error": err.Error(),
				})
				continue
			}
			return result, nil
		}
	}

	return nil, ErrAllProvidersFailed
}

func (r *Router) invoke(ctx context.Context, cand config.RouterCandidate, tier budget.Tier, req Request) (*Result, error) {
	p, err := r.providerFor(cand.Profile)
	if err != nil {
		return nil, err
	}
	profile := r.profiles[cand.Profile]

	resp, err := p.Chat(ctx, provider.ChatRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Tools:        req.Tools,
		MaxTokens:    resolveMaxTokens(req.MaxTokens, profile.MaxTokens),
		Temperature:  req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	cost := decimal.Zero
	if resp.Usage.CostUSD != nil {
		cost = decimal.NewFromFloat(*resp.Usage.CostUSD)
	}
	recorded, err := r.budget.RecordUsage(ctx, cand.Provider, profile.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, req.Task)
	if err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	if resp.Usage.CostUSD == nil {
		cost = recorded
	}

	r.logEvent(journal.EventPlan, "llm_response", map[string]any{
		"provider": cand.Provider, "model": profile.Model, "tier": string(tier),
		"input_tokens": resp.Usage.InputTokens, "output_tokens": resp.Usage.OutputTokens, "cost_usd": cost.String(),
	})

	return &Result{Response: resp, Provider: cand.Provider, Model: profile.Model, Tier: tier, CostUSD: cost}, nil
}

func (r *Router) providerFor(profileName string) (provider.Provider, error) {
	if p, ok := r.providers[profileName]; ok {
		return p, nil
	}
	profile, ok := r.profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("no llm profile configured for %q", profileName)
	}
	p, err := r.factory(profile)
	if err != nil {
		return nil, fmt.Errorf("build provider for profile %q: %w", profileName, err)
	}
	r.providers[profileName] = p
	return p, nil
}

// isAvailable reports whether a candidate's backing profile is
// configured: a known profile, and (for non-local paid/free remote
// providers) a non-empty credential.
func (r *Router) isAvailable(cand config.RouterCandidate) bool {
	profile, ok := r.profiles[cand.Profile]
	if !ok {
		return false
	}
	if profile.Provider == "ollama" {
		return true
	}
	return profile.APIKey != ""
}

// orderedCandidates returns tier's candidates, stably moving free
// cost-class entries first when preferFree is set.
func (r *Router) orderedCandidates(tier budget.Tier, preferFree bool) []config.RouterCandidate {
	candidates := append([]config.RouterCandidate(nil), r.tiers[tier]...)
	if !preferFree {
		return candidates
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		iFree := candidates[i].CostClass == "free"
		jFree := candidates[j].CostClass == "free"
		return iFree && !jFree
	})
	return candidates
}

func (r *Router) logEvent(eventType, content string, metadata map[string]any) {
	if r.journal == nil {
		return
	}
	_ = r.journal.Append(eventType, content, metadata)
}

func indexOfTier(tier budget.Tier) int {
	for i, t := range tierOrder {
		if t == tier {
			return i
		}
	}
	return 0
}

func resolveMaxTokens(requested, configured int) int {
	if requested > 0 {
		return requested
	}
	return configured
}

// TierInfo summarizes one tier's configured fallback chain for
// diagnostics.
type TierInfo struct {
	Tier       budget.Tier
	Candidates []config.RouterCandidate
}

// GetTierInfo returns the configured candidate chain for every tier, in
// richest-to-cheapest order.
func (r *Router) GetTierInfo() []TierInfo {
	infos := make([]TierInfo, 0, len(tierOrder))
	for _, tier := range tierOrder {
		infos = append(infos, TierInfo{Tier: tier, Candidates: r.tiers[tier]})
	}
	return infos
}

// GetAvailableProviders returns the distinct provider names across every
// tier whose backing profile is currently available.
func (r *Router) GetAvailableProviders() []string {
	seen := map[string]bool{}
	var out []string
	for _, tier := range tierOrder {
		for _, cand := range r.tiers[tier] {
			if seen[cand.Provider] || !r.isAvailable(cand) {
				continue
			}
			seen[cand.Provider] = true
			out = append(out, cand.Provider)
		}
	}
	sort.Strings(out)
	return out
}
