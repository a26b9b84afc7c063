package planner

import (
	"fmt"
	"strings"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/memory"
	"github.com/sentinel-agent/sentinel/internal/safety"
	"github.com/sentinel-agent/sentinel/internal/state"
	"github.com/sentinel-agent/sentinel/internal/tools"
)

// PromptInputs carries everything the Prompt Builder needs to assemble
// the full-planning system prompt. It is deliberately a flat struct of
// read-only snapshots rather than live references to the subsystems
// themselves, so building a prompt never blocks on their locks.
type PromptInputs struct {
	Directive         string
	Goals             state.Goals
	ActiveTask        string
	Iteration         int
	ShortTermMemories []state.ShortTermMemoryEntry
	RetrievedMemories []memory.Entry
	BudgetStatus      budget.Status
	Tools             []tools.Tool
	Skills            []memory.Skill
	PendingChatCount  int
	LastChatMessage   string
	LastSummary       string
}

// BuildFullPrompt assembles the full-planning system prompt: immutable
// rules, identity, tiered goals, budget status, tool/skill catalogs, and
// the strict JSON response schema instructions.
func BuildFullPrompt(in PromptInputs) string {
	var b strings.Builder

	b.WriteString(safety.Rules.AsPromptSection())
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "## IDENTITY\nYou are %s, an autonomous agent operating continuously. It is iteration %d.\n\n", in.Directive, in.Iteration)

	writeGoalsSection(&b, in.Goals)

	if in.ActiveTask != "" {
		fmt.Fprintf(&b, "## ACTIVE TASK\n%s\n\n", in.ActiveTask)
	}

	writeSTMSection(&b, in.ShortTermMemories)
	writeMemorySection(&b, in.RetrievedMemories)
	writeBudgetSection(&b, in.BudgetStatus)
	writeToolsSection(&b, in.Tools)
	writeSkillsSection(&b, in.Skills)
	writeChatSection(&b, in.PendingChatCount, in.LastChatMessage)

	if in.LastSummary != "" {
		fmt.Fprintf(&b, "## RESULTS FROM LAST ITERATION\n%s\n\n", in.LastSummary)
	}

	b.WriteString(fullPlanResponseSchema)
	return b.String()
}

// BuildTriagePrompt assembles the cheap phase-1 system prompt: a
// condensed view of state used only to decide complexity/tier and
// whether a full plan is warranted.
func BuildTriagePrompt(in PromptInputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are triaging iteration %d for %s. Decide how much attention this iteration needs.\n\n", in.Iteration, in.Directive)
	writeGoalsSection(&b, in.Goals)
	if in.ActiveTask != "" {
		fmt.Fprintf(&b, "## ACTIVE TASK\n%s\n\n", in.ActiveTask)
	}
	writeChatSection(&b, in.PendingChatCount, in.LastChatMessage)
	b.WriteString(triageResponseSchema)
	return b.String()
}

func writeGoalsSection(b *strings.Builder, goals state.Goals) {
	b.WriteString("## GOALS\n")
	writeGoalList(b, "Short-term", goals.ShortTerm)
	writeGoalList(b, "Mid-term", goals.MidTerm)
	writeGoalList(b, "Long-term", goals.LongTerm)
	b.WriteString("\n")
}

func writeGoalList(b *strings.Builder, label string, goals []string) {
	if len(goals) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, g := range goals {
		fmt.Fprintf(b, "- %s\n", g)
	}
}

func writeSTMSection(b *strings.Builder, entries []state.ShortTermMemoryEntry) {
	if len(entries) == 0 {
		return
	}
	b.WriteString("## SHORT-TERM MEMORY\n")
	for i, e := range entries {
		fmt.Fprintf(b, "[%d] (iteration %d) %s\n", i, e.Iteration, e.Content)
	}
	b.WriteString("\n")
}

func writeMemorySection(b *strings.Builder, entries []memory.Entry) {
	if len(entries) == 0 {
		return
	}
	b.WriteString("## RELEVANT MEMORIES\n")
	for _, e := range entries {
		fmt.Fprintf(b, "- %s\n", e.Content)
	}
	b.WriteString("\n")
}

func writeBudgetSection(b *strings.Builder, status budget.Status) {
	fmt.Fprintf(b, "## BUDGET STATUS\nSpent %s of %s this month (%s%% used). Free tier available: %t.\n\n",
		status.Spent.StringFixed(2), status.MonthlyCap.StringFixed(2), status.PercentUsed.StringFixed(1), status.HasFreeTier)
}

func writeToolsSection(b *strings.Builder, registered []tools.Tool) {
	if len(registered) == 0 {
		return
	}
	b.WriteString("## AVAILABLE TOOLS\n")
	for _, t := range registered {
		fmt.Fprintf(b, "- %s: %s\n", t.Name(), t.Description())
	}
	b.WriteString("\n")
}

func writeSkillsSection(b *strings.Builder, skills []memory.Skill) {
	if len(skills) == 0 {
		return
	}
	b.WriteString("## SKILLS\n")
	for _, s := range skills {
		fmt.Fprintf(b, "- %s: %s\n", s.Name, s.Summary)
	}
	b.WriteString("\n")
}

func writeChatSection(b *strings.Builder, pendingCount int, lastMessage string) {
	if pendingCount == 0 {
		return
	}
	fmt.Fprintf(b, "## PENDING CREATOR CHAT (%d message(s))\nMost recent: %s\nYou must set chat_reply this iteration.\n\n", pendingCount, lastMessage)
}

const fullPlanResponseSchema = `## RESPONSE FORMAT
Respond with a single JSON object and nothing else:
{
  "thinking": "your reasoning",
  "actions": [{"tool": "name", "parameters": {}, "tier": "level1|level2|level3|local_only"}],
  "goals_update": {"short_term": [], "mid_term": [], "long_term": []},
  "short_term_memories_update": {"add": [], "remove": [], "replace": []},
  "memory_config": {"max_context_tokens": 0, "retrieval_count": 0, "decay_factor": 0.0, "relevance_threshold": 0.0},
  "sleep_seconds": 0,
  "status_message": "one-line status",
  "chat_reply": "reply text, only if pending chat requires one"
}
Omit any field you have no update for. Use an empty actions array when no action is warranted this iteration.`

const triageResponseSchema = `## RESPONSE FORMAT
Respond with a single JSON object and nothing else:
{
  "complexity": "idle|low|medium|high",
  "tier": "level1|level2|level3|local_only",
  "reason": "short justification",
  "needs_full_plan": true,
  "quick_action": {"status_message": "...", "sleep_seconds": 0}
}
Set needs_full_plan false and supply quick_action only when no tool call or goal/memory update is warranted this iteration.`
