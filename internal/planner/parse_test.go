package planner

import "testing"

func TestParsePlanRawJSON(t *testing.T) {
	raw := `{"thinking":"ok","actions":[{"tool":"read_file","parameters":{"path":"a.go"}}],"status_message":"reading"}`
	plan := ParsePlan(raw)
	if len(plan.Actions) != 1 || plan.Actions[0].Tool != "read_file" {
		t.Fatalf("unexpected actions: %+v", plan.Actions)
	}
	if plan.StatusMessage != "reading" {
		t.Fatalf("expected status_message to survive, got %q", plan.StatusMessage)
	}
}

func TestParsePlanFencedCodeBlock(t *testing.T) {
	raw := "```json\n{\"thinking\":\"x\",\"actions\":[]}\n```"
	plan := ParsePlan(raw)
	if plan.Thinking != "x" {
		t.Fatalf("expected fence stripped, got thinking=%q", plan.Thinking)
	}
}

func TestParsePlanOuterBraceExtraction(t *testing.T) {
	raw := "Here is my plan:\n{\"thinking\":\"y\",\"actions\":[]}\nHope that helps."
	plan := ParsePlan(raw)
	if plan.Thinking != "y" {
		t.Fatalf("expected outer object extracted, got thinking=%q", plan.Thinking)
	}
}

func TestParsePlanTruncationRepair(t *testing.T) {
	raw := `{"thinking":"partial plan","actions":[{"tool":"read_file","parameters":{"path":"a.go"}}]`
	plan := ParsePlan(raw)
	if len(plan.Actions) != 1 {
		t.Fatalf("expected truncation repair to recover one action, got %+v", plan.Actions)
	}
	if plan.Thinking != "partial plan" {
		t.Fatalf("expected thinking preserved after repair, got %q", plan.Thinking)
	}
}

func TestParsePlanActionMissingParameters(t *testing.T) {
	raw := `{"thinking":"no params field","actions":[{"tool":"check_status"}]}`
	plan := ParsePlan(raw)
	if len(plan.Actions) != 1 || plan.Actions[0].Tool != "check_status" {
		t.Fatalf("expected one check_status action, got %+v", plan.Actions)
	}
	if plan.Actions[0].Parameters == nil || len(plan.Actions[0].Parameters) != 0 {
		t.Fatalf("expected empty non-nil parameters map, got %+v", plan.Actions[0].Parameters)
	}
}

func TestParsePlanActionNullParameters(t *testing.T) {
	raw := `{"thinking":"explicit null","actions":[{"tool":"check_status","parameters":null}]}`
	plan := ParsePlan(raw)
	if len(plan.Actions) != 1 {
		t.Fatalf("expected one action, got %+v", plan.Actions)
	}
	if plan.Actions[0].Parameters == nil || len(plan.Actions[0].Parameters) != 0 {
		t.Fatalf("expected empty non-nil parameters map, got %+v", plan.Actions[0].Parameters)
	}
}

func TestParsePlanDoubleNestedUnwrap(t *testing.T) {
	inner := `{\"thinking\":\"real reasoning\",\"actions\":[{\"tool\":\"noop\",\"parameters\":{}}]}`
	raw := `{"thinking": "` + inner + `", "chat_reply": "hi"}`
	plan := ParsePlan(raw)
	if len(plan.Actions) != 1 || plan.Actions[0].Tool != "noop" {
		t.Fatalf("expected double-nested plan unwrapped, got %+v", plan.Actions)
	}
	if plan.Thinking != "real reasoning" {
		t.Fatalf("expected inner thinking to win, got %q", plan.Thinking)
	}
	if plan.ChatReply != "hi" {
		t.Fatalf("expected outer-only chat_reply folded in, got %q", plan.ChatReply)
	}
}

func TestParsePlanTotalFailureFallsBackToRawThinking(t *testing.T) {
	raw := "not json at all, no braces here"
	plan := ParsePlan(raw)
	if len(plan.Actions) != 0 {
		t.Fatalf("expected no actions on parse failure, got %+v", plan.Actions)
	}
	if plan.Thinking != raw {
		t.Fatalf("expected raw content preserved as thinking, got %q", plan.Thinking)
	}
}

func TestParsePlanTriageSchema(t *testing.T) {
	raw := `{"complexity":"idle","tier":"local_only","reason":"nothing pending","needs_full_plan":false,"quick_action":{"status_message":"idling","sleep_seconds":30}}`
	plan := ParsePlan(raw)
	if plan.Triage == nil {
		t.Fatalf("expected triage result to be parsed")
	}
	if plan.Triage.Complexity != ComplexityIdle || plan.Triage.NeedsFullPlan {
		t.Fatalf("unexpected triage result: %+v", plan.Triage)
	}
	if plan.Triage.QuickAction == nil || plan.Triage.QuickAction.StatusMessage != "idling" {
		t.Fatalf("expected quick_action to be parsed, got %+v", plan.Triage.QuickAction)
	}
}
