// Package state implements the durable AgentState singleton and its
// bounded short-term memory scratch pad.
package state

import "time"

// Default goal seeds, used only on first-time AgentState creation.
var (
	DefaultShortTermGoals = []string{
		"Verify LLM providers, budget, and memory subsystems are healthy",
		"Respond promptly to creator chat messages",
	}
	DefaultMidTermGoals = []string{
		"Expand tool coverage and monitor stability",
		"Improve self-modification safety",
	}
	DefaultLongTermGoals = []string{
		"Continuously improve own code, memory, and capabilities",
		"Generate value through work performed in the world",
	}
)

const (
	// STMMaxEntries is the hard cap on short-term memory entries.
	STMMaxEntries = 50
	// STMMaxAgeHours is the eviction age for short-term memory entries.
	STMMaxAgeHours = 48
	// STMMaxContentLength truncates individual entry content.
	STMMaxContentLength = 500
)

// ShortTermMemoryEntry is one scratch-pad entry carried on AgentState.
type ShortTermMemoryEntry struct {
	Content   string
	CreatedAt time.Time
	Iteration int
}

// Goals holds the three tiered goal lists.
type Goals struct {
	ShortTerm []string
	MidTerm   []string
	LongTerm  []string
}

// AgentState is the durable singleton describing the agent's current
// directive, goals, and lifecycle counters. Created once, mutated only
// through the Persistor.
type AgentState struct {
	Directive         string
	Goals             Goals
	ActiveTask        string
	Iteration         int
	Paused            bool
	ShortTermMemories []ShortTermMemoryEntry
	StartedAt         time.Time
	LastHeartbeat     time.Time

	// CurrentGoals mirrors ShortTerm for backward-compatible readers. It
	// is written but never read by planning logic; the tiered fields are
	// authoritative.
	CurrentGoals []string
}
