package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// ringSize is the number of recent iteration action-signatures retained
// for loop detection.
const ringSize = 10

// noActionsSignature is the canonical signature of a Plan with zero
// actions, used by the "no actions for 4+ iterations" check.
const noActionsSignature = "no_actions"

// LoopDetector tracks a bounded ring of recent action signatures across
// iterations and flags stuck or idle patterns.
type LoopDetector struct {
	signatures []string
}

// NewLoopDetector returns an empty detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{}
}

// Signature derives a stable signature for a Plan's actions: the
// no-actions sentinel if it has none, otherwise a hash of each action's
// tool name and sorted parameter keys/values.
func Signature(actions []Action) string {
	if len(actions) == 0 {
		return noActionsSignature
	}
	h := sha256.New()
	for _, a := range actions {
		fmt.Fprintf(h, "tool=%s;", a.Tool)
		keys := make([]string, 0, len(a.Parameters))
		for k := range a.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%v;", k, a.Parameters[k])
		}
		h.Write([]byte("|"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Observe records one iteration's action signature and returns a
// non-empty warning string if the new state matches a stuck-loop or
// idle pattern. The exact substrings "STUCK LOOP DETECTED" and
// "no actions for 4+ iterations" are required by callers that match on
// them, so they must not be reworded.
func (d *LoopDetector) Observe(actions []Action) string {
	sig := Signature(actions)
	d.signatures = append(d.signatures, sig)
	if len(d.signatures) > ringSize {
		d.signatures = d.signatures[len(d.signatures)-ringSize:]
	}

	if sig != noActionsSignature && d.lastNIdentical(3, sig) {
		return fmt.Sprintf("STUCK LOOP DETECTED: the same action signature repeated 3 consecutive iterations (%s)", sig[:minInt(8, len(sig))])
	}

	if d.noActionsInLastNOfM(4, 5) {
		return "no actions for 4+ iterations"
	}

	return ""
}

func (d *LoopDetector) lastNIdentical(n int, sig string) bool {
	if len(d.signatures) < n {
		return false
	}
	window := d.signatures[len(d.signatures)-n:]
	for _, s := range window {
		if s != sig {
			return false
		}
	}
	return true
}

func (d *LoopDetector) noActionsInLastNOfM(n, m int) bool {
	if len(d.signatures) < m {
		return false
	}
	window := d.signatures[len(d.signatures)-m:]
	count := 0
	for _, s := range window {
		if s == noActionsSignature {
			count++
		}
	}
	return count >= n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
