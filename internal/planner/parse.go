package planner

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/sentinel-agent/sentinel/internal/budget"
)

var jsonFencePrefixes = []string{"```json", "```JSON", "```"}

// ParsePlan applies a sequence of increasingly lenient repairs: raw
// parse, fence-stripping, outer-brace extraction, truncation repair by
// appending closing characters, and double-nesting unwrap. On total
// failure it returns a Plan whose Thinking is the raw content and whose
// Actions is empty, so a malformed response degrades to a no-op
// iteration instead of an error.
func ParsePlan(raw string) Plan {
	candidate := raw
	if gjson.Valid(candidate) {
		if plan, ok := tryDecodePlan(candidate); ok {
			return plan
		}
	}

	stripped := stripFences(raw)
	if gjson.Valid(stripped) {
		if plan, ok := tryDecodePlan(stripped); ok {
			return plan
		}
	}

	// extracted is the balanced {...} substring when one exists, or the
	// unbalanced remainder from the first "{" when the document was cut
	// off mid-object (the truncation-repair case).
	extracted, balanced := extractOuterObject(stripped)
	if extracted != "" {
		if balanced && gjson.Valid(extracted) {
			if plan, ok := tryDecodePlan(extracted); ok {
				return plan
			}
		}
		if repaired, ok := repairTruncation(extracted); ok {
			if plan, ok := tryDecodePlan(repaired); ok {
				return plan
			}
		}
	}

	return Plan{Thinking: raw}
}

// tryDecodePlan decodes a known-valid JSON document into a Plan, first
// checking for the double-nesting case (the real plan buried in the
// outer object's "thinking" field) before decoding directly.
func tryDecodePlan(doc string) (Plan, bool) {
	if inner, ok := unwrapDoubleNested(doc); ok {
		return decodePlanObject(inner), true
	}
	if !gjson.Get(doc, "actions").Exists() && !gjson.Get(doc, "thinking").Exists() &&
		!gjson.Get(doc, "status_message").Exists() && !gjson.Get(doc, "complexity").Exists() {
		return Plan{}, false
	}
	return decodePlanObject(doc), true
}

// unwrapDoubleNested detects a response shaped like
// {"thinking": "{\"thinking\":...,\"actions\":[...]}": the model
// nested the real plan as a JSON string inside the outer "thinking"
// field instead of returning it directly.
func unwrapDoubleNested(doc string) (string, bool) {
	thinking := gjson.Get(doc, "thinking")
	if !thinking.Exists() || thinking.Type != gjson.String {
		return "", false
	}
	inner := strings.TrimSpace(thinking.Str)
	if !strings.HasPrefix(inner, "{") || !gjson.Valid(inner) {
		return "", false
	}
	if !gjson.Get(inner, "actions").Exists() {
		return "", false
	}
	// Only the outer object's own top-level keys besides "thinking"
	// matter if the inner document doesn't already define them; fold
	// them in so a chat_reply set only on the outer object survives.
	result := inner
	gjson.Parse(doc).ForEach(func(key, value gjson.Result) bool {
		if key.Str == "thinking" {
			return true
		}
		if !gjson.Get(result, key.Str).Exists() {
			if set, err := sjson.SetRaw(result, key.Str, value.Raw); err == nil {
				result = set
			}
		}
		return true
	})
	return result, true
}

func decodePlanObject(doc string) Plan {
	plan := Plan{
		Thinking:      gjson.Get(doc, "thinking").String(),
		StatusMessage: gjson.Get(doc, "status_message").String(),
		ChatReply:     gjson.Get(doc, "chat_reply").String(),
	}

	if actions := gjson.Get(doc, "actions"); actions.IsArray() {
		for _, a := range actions.Array() {
			params, _ := a.Get("parameters").Value().(map[string]any)
			if params == nil {
				params = map[string]any{}
			}
			plan.Actions = append(plan.Actions, Action{
				Tool:       a.Get("tool").String(),
				Parameters: params,
				Tier:       a.Get("tier").String(),
			})
		}
	}

	if sleep := gjson.Get(doc, "sleep_seconds"); sleep.Exists() {
		v := sleep.Float()
		plan.SleepSeconds = &v
	}

	if goalsUpdate := gjson.Get(doc, "goals_update"); goalsUpdate.Exists() {
		plan.GoalsUpdate = parseGoalsUpdate(goalsUpdate)
	}

	if stmUpdate := gjson.Get(doc, "short_term_memories_update"); stmUpdate.Exists() {
		plan.ShortTermMemoriesUpdate = parseSTMUpdate(stmUpdate)
	}

	if memCfg := gjson.Get(doc, "memory_config"); memCfg.Exists() && memCfg.IsObject() {
		plan.MemoryConfig = &MemoryConfigUpdate{
			MaxContextTokens:   int(memCfg.Get("max_context_tokens").Int()),
			RetrievalCount:     int(memCfg.Get("retrieval_count").Int()),
			DecayFactor:        memCfg.Get("decay_factor").Float(),
			RelevanceThreshold: memCfg.Get("relevance_threshold").Float(),
		}
	}

	if complexity := gjson.Get(doc, "complexity"); complexity.Exists() {
		plan.Triage = &TriageResult{
			Complexity:    Complexity(complexity.String()),
			Tier:          budget.Tier(gjson.Get(doc, "tier").String()),
			Reason:        gjson.Get(doc, "reason").String(),
			NeedsFullPlan: gjson.Get(doc, "needs_full_plan").Bool(),
		}
		if qa := gjson.Get(doc, "quick_action"); qa.Exists() && qa.IsObject() {
			quick := &QuickAction{StatusMessage: qa.Get("status_message").String()}
			if s := qa.Get("sleep_seconds"); s.Exists() {
				v := s.Float()
				quick.SleepSeconds = &v
			}
			plan.Triage.QuickAction = quick
		}
	}

	return plan
}

func parseGoalsUpdate(g gjson.Result) *GoalsUpdate {
	if g.IsArray() {
		flat := make([]string, 0, len(g.Array()))
		for _, v := range g.Array() {
			flat = append(flat, v.String())
		}
		return &GoalsUpdate{FlatList: flat}
	}
	return &GoalsUpdate{
		ShortTerm: stringArray(g.Get("short_term")),
		MidTerm:   stringArray(g.Get("mid_term")),
		LongTerm:  stringArray(g.Get("long_term")),
	}
}

func parseSTMUpdate(g gjson.Result) *ShortTermMemoriesUpdate {
	update := &ShortTermMemoriesUpdate{
		Add:     stringArray(g.Get("add")),
		Replace: stringArray(g.Get("replace")),
	}
	for _, v := range g.Get("remove").Array() {
		update.Remove = append(update.Remove, int(v.Int()))
	}
	return update
}

func stringArray(g gjson.Result) []string {
	if !g.IsArray() {
		return nil
	}
	out := make([]string, 0, len(g.Array()))
	for _, v := range g.Array() {
		out = append(out, v.String())
	}
	return out
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	for _, prefix := range jsonFencePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			trimmed = strings.TrimPrefix(trimmed, prefix)
			trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
			return strings.TrimSpace(trimmed)
		}
	}
	return trimmed
}

// extractOuterObject finds the first top-level {...} substring by brace
// counting, tolerating braces inside quoted strings.
func extractOuterObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return text[start:], false
}

// repairTruncation tries appending small closing suffixes to a
// brace-unbalanced candidate, the common shape of a response cut off
// mid-field by a token limit.
func repairTruncation(candidate string) (string, bool) {
	suffixes := []string{"", "}", "\"", "\"}", "]}", "}}", "\"]}", "}]}", "\"}]}"}
	trimmed := strings.TrimRight(candidate, " \t\n\r,")
	for _, suffix := range suffixes {
		attempt := trimmed + suffix
		if gjson.Valid(attempt) {
			return attempt, true
		}
	}
	return candidate, false
}
