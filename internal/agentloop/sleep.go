package agentloop

import (
	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/planner"
)

// minSleepSeconds/maxSleepSeconds bound every value computeSleep can
// return.
const (
	minSleepSeconds         = 10.0
	maxSleepSecondsWithFree = 120.0
	maxSleepSecondsNoFree   = 3600.0
	noActionsSleepSeconds   = 120.0
	defaultSleepSeconds     = 30.0
	lowBudgetThresholdUSD   = 1.0
	lowBudgetSleepNoFree    = 3600.0
	lowBudgetSleepWithFree  = 60.0
)

// computeSleep decides the next inter-iteration sleep: the plan's
// explicit request takes priority (clamped to the free-provider-aware
// ceiling), then budget exhaustion, then "no actions taken", falling
// back to a flat default.
func computeSleep(plan *planner.Plan, status budget.Status, tookActions bool) float64 {
	hasFree := status.HasFreeTier

	if plan != nil && plan.SleepSeconds != nil {
		ceiling := maxSleepSecondsNoFree
		if hasFree {
			ceiling = maxSleepSecondsWithFree
		}
		return clamp(*plan.SleepSeconds, minSleepSeconds, ceiling)
	}

	remaining, _ := status.Remaining.Float64()
	if remaining <= lowBudgetThresholdUSD && !hasFree {
		return lowBudgetSleepNoFree
	}
	if remaining <= lowBudgetThresholdUSD && hasFree {
		return lowBudgetSleepWithFree
	}
	if !tookActions {
		return noActionsSleepSeconds
	}
	return defaultSleepSeconds
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
