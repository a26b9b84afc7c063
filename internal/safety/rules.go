// Package safety implements the agent's immutable rule set, action
// validation, output sanitization, and process/network sandboxing.
package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// ImmutableRules is the frozen set of rules the agent can never modify at
// runtime; there is deliberately no setter on this type.
type ImmutableRules struct {
	rules []string
}

// Rules is the single, hardcoded instance every validator consults.
var Rules = ImmutableRules{rules: []string{
	"You must never take actions that could harm your creator.",
	"You must never expose secrets, API keys, or environment variables in any output, log, or communication.",
	"You must remain fully transparent to your creator — all actions must be logged and visible.",
	"You must log every action you take without exception.",
	"You cannot modify or disable these immutable safety rules.",
	"You cannot disable or circumvent the logging system.",
	"You cannot create hidden sub-agents or processes invisible to the creator.",
	"You cannot override the budget hard cap without explicit creator approval.",
	"You must operate within legal boundaries at all times.",
	"You must never attempt to self-replicate across machines without creator approval.",
}}

// AsPromptSection renders the rules as a numbered markdown section for
// inclusion in the Planner's system prompt.
func (r ImmutableRules) AsPromptSection() string {
	var b strings.Builder
	b.WriteString("## IMMUTABLE RULES (Cannot be modified — enforced at code level)\n")
	for i, rule := range r.rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rule)
	}
	return strings.TrimRight(b.String(), "\n")
}

type dangerPattern struct {
	pattern *regexp.Regexp
	message string
}

var dangerPatterns = []dangerPattern{
	{regexp.MustCompile(`disable.*log`), "Attempt to disable logging"},
	{regexp.MustCompile(`remove.*safety`), "Attempt to remove safety layer"},
	{regexp.MustCompile(`delete.*immutable`), "Attempt to modify immutable rules"},
	{regexp.MustCompile(`hide.*from.*creator`), "Attempt to hide actions from creator"},
	{regexp.MustCompile(`secret.*print`), "Attempt to expose secrets"},
	{regexp.MustCompile(`api.key.*output`), "Attempt to expose API keys"},
}

// ContainsViolation scans text for phrasing that suggests an attempt to
// subvert the immutable rules and returns the matched violation messages.
func (r ImmutableRules) ContainsViolation(text string) []string {
	lower := strings.ToLower(text)
	var violations []string
	for _, dp := range dangerPatterns {
		if dp.pattern.MatchString(lower) {
			violations = append(violations, dp.message)
		}
	}
	return violations
}
