// Package dispatch implements the ToolDispatcher: the safety-gated,
// timed, journaled boundary between a Plan's actions and the tool
// Registry. Every tool invocation in the system flows through it.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinel-agent/sentinel/internal/journal"
	"github.com/sentinel-agent/sentinel/internal/safety"
	"github.com/sentinel-agent/sentinel/internal/state"
	"github.com/sentinel-agent/sentinel/internal/tools"
)

// DefaultTimeout is used when the caller supplies a zero Timeout.
const DefaultTimeout = 5 * time.Minute

// Result is the normalized outcome of one dispatched tool call.
type Result struct {
	Tool           string
	Success        bool
	Output         string
	Error          string
	Truncated      bool
	FullOutputPath string
	DurationMs     int64
}

// ToolUsageRecorder persists one tool_usage_log row. Satisfied by
// *state.Persistor; a narrow interface keeps this package testable
// without a database.
type ToolUsageRecorder interface {
	RecordToolUsage(ctx context.Context, rec state.ToolUsageRecord) error
}

// Dispatcher wraps a tool Registry with safety validation, a wall-clock
// timeout, output sanitization, and durable journaling/usage logging for
// every call.
type Dispatcher struct {
	registry  *tools.Registry
	validator *safety.Validator
	journal   *journal.Journal
	usage     ToolUsageRecorder
	timeout   time.Duration
}

// New builds a Dispatcher. journal and usage may be nil in tests; a zero
// timeout falls back to DefaultTimeout.
func New(registry *tools.Registry, validator *safety.Validator, jrnl *journal.Journal, usage ToolUsageRecorder, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{registry: registry, validator: validator, journal: jrnl, usage: usage, timeout: timeout}
}

// Execute looks up toolName, safety-validates the call, runs it under a
// timeout, sanitizes its output, and journals/persists the outcome.
// A safety block or unknown tool never reaches Tool.Execute.
func (d *Dispatcher) Execute(ctx context.Context, iteration int, toolName string, parameters map[string]any) Result {
	start := time.Now()

	tool, ok := d.registry.Lookup(toolName)
	if !ok {
		result := Result{Tool: toolName, Success: false, Error: fmt.Sprintf("unknown tool %q", toolName)}
		d.record(ctx, iteration, start, result)
		return result
	}

	if ok, reason := d.validator.ValidateAction(safety.Action{Tool: toolName, Parameters: parameters}); !ok {
		result := Result{Tool: toolName, Success: false, Error: fmt.Sprintf("Blocked by safety: %s", reason)}
		d.logEvent(journal.EventWarning, "action_blocked", map[string]any{"tool": toolName, "reason": reason})
		d.record(ctx, iteration, start, result)
		return result
	}

	result := d.runWithTimeout(ctx, tool, parameters)
	result.Tool = toolName
	result.DurationMs = time.Since(start).Milliseconds()

	d.logEvent(journal.EventToolOutput, result.Output, map[string]any{
		"tool": toolName, "success": result.Success, "duration_ms": result.DurationMs,
		"params": summarizeParams(parameters),
	})
	d.record(ctx, iteration, start, result)
	return result
}

func (d *Dispatcher) runWithTimeout(ctx context.Context, tool tools.Tool, parameters map[string]any) Result {
	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		result *tools.ToolResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := tool.Execute(timeoutCtx, parameters)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-timeoutCtx.Done():
		return Result{Success: false, Error: fmt.Sprintf("Tool timed out after %.0fs", d.timeout.Seconds())}
	case o := <-done:
		if o.err != nil {
			return Result{Success: false, Error: o.err.Error()}
		}
		sanitized := safety.SanitizeOutput(o.result.Output)
		return Result{
			Success:        true,
			Output:         sanitized,
			Truncated:      o.result.Truncated,
			FullOutputPath: o.result.FullOutputPath,
		}
	}
}

func (d *Dispatcher) record(ctx context.Context, iteration int, start time.Time, result Result) {
	if d.usage == nil {
		return
	}
	_ = d.usage.RecordToolUsage(ctx, state.ToolUsageRecord{
		Tool:       result.Tool,
		Iteration:  iteration,
		DurationMs: time.Since(start).Milliseconds(),
		Success:    result.Success,
		Error:      result.Error,
	})
}

// summarizeParams renders a compact, bounded view of a call's parameters
// for the journal record. Values are truncated so a large file write
// never bloats the event stream.
func summarizeParams(parameters map[string]any) map[string]string {
	if len(parameters) == 0 {
		return nil
	}
	const valueCap = 120
	out := make(map[string]string, len(parameters))
	for k, v := range parameters {
		s := fmt.Sprintf("%v", v)
		if len(s) > valueCap {
			s = s[:valueCap] + "..."
		}
		out[k] = s
	}
	return out
}

func (d *Dispatcher) logEvent(eventType, content string, metadata map[string]any) {
	if d.journal == nil {
		return
	}
	_ = d.journal.Append(eventType, content, metadata)
}
