package planner

import (
	"strings"
	"testing"
)

func sameAction() []Action {
	return []Action{{Tool: "check_status", Parameters: map[string]any{"target": "providers"}}}
}

func TestLoopDetectorFlagsThreeIdenticalNotTwo(t *testing.T) {
	d := NewLoopDetector()
	if w := d.Observe(sameAction()); w != "" {
		t.Fatalf("expected no warning after 1st occurrence, got %q", w)
	}
	if w := d.Observe(sameAction()); w != "" {
		t.Fatalf("expected no warning after 2nd occurrence, got %q", w)
	}
	w := d.Observe(sameAction())
	if w == "" {
		t.Fatalf("expected stuck-loop warning on 3rd identical occurrence")
	}
	if got, want := w, "STUCK LOOP DETECTED"; !strings.Contains(got, want) {
		t.Fatalf("expected warning to contain %q, got %q", want, got)
	}
}

func TestLoopDetectorDoesNotFlagDistinctActions(t *testing.T) {
	d := NewLoopDetector()
	d.Observe([]Action{{Tool: "a"}})
	d.Observe([]Action{{Tool: "b"}})
	if w := d.Observe([]Action{{Tool: "c"}}); w != "" {
		t.Fatalf("expected no warning across distinct actions, got %q", w)
	}
}

func TestLoopDetectorFlagsFourOfFiveNoActions(t *testing.T) {
	d := NewLoopDetector()
	var empty []Action
	d.Observe(empty)
	d.Observe([]Action{{Tool: "check_status"}})
	d.Observe(empty)
	d.Observe(empty)
	w := d.Observe(empty)
	if !strings.Contains(w, "no actions for 4+ iterations") {
		t.Fatalf("expected idle warning, got %q", w)
	}
}

func TestLoopDetectorDoesNotFlagThreeOfFiveNoActions(t *testing.T) {
	d := NewLoopDetector()
	var empty []Action
	d.Observe(empty)
	d.Observe([]Action{{Tool: "check_status"}})
	d.Observe([]Action{{Tool: "check_status"}})
	d.Observe(empty)
	w := d.Observe(empty)
	if w != "" {
		t.Fatalf("expected no warning for only 3 of 5 no-action iterations, got %q", w)
	}
}
