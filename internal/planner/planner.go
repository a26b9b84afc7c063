package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/journal"
	"github.com/sentinel-agent/sentinel/internal/llmrouter"
	"github.com/sentinel-agent/sentinel/internal/memory"
	"github.com/sentinel-agent/sentinel/internal/provider"
)

// triageOnlyEscalationCount is the number of consecutive triage-only
// (short-circuited) iterations after which a full plan is forced
// regardless of the triage call's own assessment, so the agent
// periodically reassesses instead of idling forever.
const triageOnlyEscalationCount = 5

// Planner drives the two-phase triage/full-plan cycle, carrying the
// consecutive-triage-only counter and loop detector across iterations.
// Not safe for concurrent use; the IterationLoop owns a single instance.
type Planner struct {
	router  *llmrouter.Router
	journal *journal.Journal
	loop    *LoopDetector
	working *memory.WorkingMemory

	consecutiveTriageOnly int
}

// New builds a Planner around a configured LLMRouter and Journal. The
// Planner owns its WorkingMemory instance exclusively: it is the
// rolling carrier for the "results from N action(s)" summary and for
// loop detection warnings, both surfaced to the next full-planning call.
func New(router *llmrouter.Router, jrnl *journal.Journal) *Planner {
	return &Planner{router: router, journal: jrnl, loop: NewLoopDetector(), working: memory.NewWorking()}
}

// Working exposes the Planner's WorkingMemory instance so the
// IterationLoop can set the system prompt and inject retrieved memories
// without breaking the single-owner rule.
func (p *Planner) Working() *memory.WorkingMemory {
	return p.working
}

// SetLastIterationSummary records the "results from N action(s)" summary
// text as a working-memory message so the next prompt can surface it.
func (p *Planner) SetLastIterationSummary(summary string) {
	if strings.TrimSpace(summary) == "" {
		return
	}
	p.working.AddMessage(memory.RoleUser, summary)
}

// renderWorkingContext flattens the carried-forward working-memory
// messages (last iteration's results summary, loop-detection warnings)
// into the single LastSummary string the Prompt Builder surfaces under
// "## RESULTS FROM LAST ITERATION".
func (p *Planner) renderWorkingContext() string {
	msgs := p.working.GetMessagesForLLM()
	if len(msgs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// Plan runs the triage call and, unless triage short-circuits the
// iteration as idle, the full-planning call, returning the resulting
// Plan annotated with any loop-detection warning.
func (p *Planner) Plan(ctx context.Context, in PromptInputs, forceFullPlan bool) (*Plan, string, error) {
	in.LastSummary = p.renderWorkingContext()

	var triage *TriageResult
	if forceFullPlan || in.PendingChatCount > 0 {
		// Skip the triage call entirely: a pending creator chat message
		// (or a caller-forced full plan) always needs the full-planning
		// call, so spending a level3 triage round-trip first would only
		// add latency and an extra usage record.
		triage = &TriageResult{Complexity: ComplexityMedium, Tier: budget.TierLevel1, NeedsFullPlan: true}
	} else {
		var err error
		triage, err = p.runTriage(ctx, in)
		if err != nil {
			return nil, "", fmt.Errorf("triage call: %w", err)
		}
	}

	needsFullPlan := forceFullPlan || in.PendingChatCount > 0 || triage.NeedsFullPlan
	escalated := false
	if !needsFullPlan {
		p.consecutiveTriageOnly++
		if p.consecutiveTriageOnly >= triageOnlyEscalationCount {
			needsFullPlan = true
			escalated = true
			p.logEvent(journal.EventWarning, "triage_only_escalation", map[string]any{
				"consecutive_triage_only": p.consecutiveTriageOnly,
			})
		}
	}

	if !needsFullPlan {
		plan := idlePlanFromTriage(triage)
		warning := p.loop.Observe(plan.Actions)
		return &plan, warning, nil
	}

	p.consecutiveTriageOnly = 0
	minTier := budget.TierLevel2
	if in.PendingChatCount > 0 {
		minTier = budget.TierLevel1
	}
	fullPlanTier := triage.Tier
	if escalated {
		// The forced reassessment after consecutive triage-only
		// iterations always runs at level3, regardless of what the
		// (stale, idle) triage tier happened to be.
		fullPlanTier = budget.TierLevel3
		minTier = budget.TierLevel3
	}
	plan, err := p.runFullPlan(ctx, in, fullPlanTier, minTier)
	if err != nil {
		return nil, "", fmt.Errorf("full plan call: %w", err)
	}
	plan.Triage = triage

	warning := p.loop.Observe(plan.Actions)
	if warning != "" {
		p.working.AddMessage(memory.RoleUser, warning)
		p.logEvent(journal.EventWarning, warning, map[string]any{"signature": Signature(plan.Actions)})
	}
	return &plan, warning, nil
}

func (p *Planner) runTriage(ctx context.Context, in PromptInputs) (*TriageResult, error) {
	prompt := BuildTriagePrompt(in)
	result, err := p.router.Complete(ctx, llmrouter.Request{
		SystemPrompt: prompt,
		Messages:     []provider.ChatMessage{{Role: provider.RoleUser, Content: "Triage this iteration."}},
		Tier:         budget.TierLevel3,
		Task:         "triage",
	})
	if err != nil {
		return nil, err
	}

	plan := ParsePlan(result.Response.Content)
	if plan.Triage == nil {
		// The model replied outside the triage schema; treat it
		// conservatively as warranting a full plan.
		return &TriageResult{Complexity: ComplexityMedium, Tier: budget.TierLevel2, NeedsFullPlan: true}, nil
	}
	return plan.Triage, nil
}

func (p *Planner) runFullPlan(ctx context.Context, in PromptInputs, tier budget.Tier, minTier budget.Tier) (Plan, error) {
	if tier == "" {
		tier = budget.TierLevel2
	}
	prompt := BuildFullPrompt(in)
	result, err := p.router.Complete(ctx, llmrouter.Request{
		SystemPrompt: prompt,
		Messages:     []provider.ChatMessage{{Role: provider.RoleUser, Content: "Plan this iteration."}},
		Tools:        nil,
		Tier:         tier,
		MinTier:      &minTier,
		Task:         "full_plan",
	})
	if err != nil {
		return Plan{}, err
	}

	plan := ParsePlan(result.Response.Content)
	plan.Response = ResponseMeta{
		Model:    result.Model,
		Provider: result.Provider,
		Tokens:   result.Response.Usage.TotalTokens,
	}
	return plan, nil
}

func idlePlanFromTriage(triage *TriageResult) Plan {
	plan := Plan{Triage: triage}
	if triage.QuickAction != nil {
		plan.StatusMessage = triage.QuickAction.StatusMessage
		plan.SleepSeconds = triage.QuickAction.SleepSeconds
	}
	return plan
}

func (p *Planner) logEvent(eventType, content string, metadata map[string]any) {
	if p.journal == nil {
		return
	}
	_ = p.journal.Append(eventType, content, metadata)
}
