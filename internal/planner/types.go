// Package planner implements the two-phase Planner: a cheap triage call
// that decides whether a full plan is warranted and at which tier, a
// full-planning call that produces a structured Plan, lenient JSON
// repair for the model's response, and loop detection across
// iterations.
package planner

import (
	"github.com/sentinel-agent/sentinel/internal/budget"
)

// Action is one tool invocation the Plan asks the dispatcher to run.
type Action struct {
	Tool       string
	Parameters map[string]any
	Tier       string
}

// GoalsUpdate replaces one or more tiered goal lists. A nil slice means
// "leave this tier unchanged"; FlatList carries the legacy flat-list
// shape where the model replied with a bare array instead of the tiered
// object.
type GoalsUpdate struct {
	ShortTerm []string
	MidTerm   []string
	LongTerm  []string
	FlatList  []string
}

// ShortTermMemoriesUpdate is the scratchpad delta a Plan may request.
type ShortTermMemoriesUpdate struct {
	Add     []string
	Remove  []int
	Replace []string
}

// MemoryConfigUpdate carries whitelisted, not-yet-clamped memory config
// overrides; internal/memory.Config.Clamp() enforces the bounds.
type MemoryConfigUpdate struct {
	MaxContextTokens   int
	RetrievalCount     int
	DecayFactor        float64
	RelevanceThreshold float64
}

// ResponseMeta records which router candidate produced the Plan, for
// which model on which provider produced the plan, and at what size.
type ResponseMeta struct {
	Model    string
	Provider string
	Tokens   int
}

// Plan is the structured output of one full-planning call (or the
// minimal idle short-circuit plan from triage).
type Plan struct {
	Thinking                string
	Actions                 []Action
	GoalsUpdate             *GoalsUpdate
	ShortTermMemoriesUpdate *ShortTermMemoriesUpdate
	MemoryConfig            *MemoryConfigUpdate
	SleepSeconds            *float64
	StatusMessage           string
	ChatReply               string

	Triage   *TriageResult
	Response ResponseMeta
}

// Complexity is the triage call's assessment of how much attention this
// iteration needs.
type Complexity string

const (
	ComplexityIdle   Complexity = "idle"
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QuickAction is the idle short-circuit payload triage may supply.
type QuickAction struct {
	SleepSeconds  *float64
	StatusMessage string
}

// TriageResult is the parsed output of the cheap phase-1 call.
type TriageResult struct {
	Complexity    Complexity
	Tier          budget.Tier
	Reason        string
	NeedsFullPlan bool
	QuickAction   *QuickAction
}
