package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentinel-agent/sentinel/internal/safety"
	"github.com/sentinel-agent/sentinel/internal/state"
	"github.com/sentinel-agent/sentinel/internal/tools"
)

type stubTool struct {
	name    string
	delay   time.Duration
	output  string
	err     error
	invoked bool
}

func (s *stubTool) Name() string                 { return s.name }
func (s *stubTool) Description() string          { return "stub" }
func (s *stubTool) Schema() map[string]any       { return map[string]any{} }
func (s *stubTool) Permission() tools.Permission { return tools.AutoApprove }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (*tools.ToolResult, error) {
	s.invoked = true
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &tools.ToolResult{Output: s.output}, nil
}

type recordingUsage struct {
	records []state.ToolUsageRecord
}

func (r *recordingUsage) RecordToolUsage(_ context.Context, rec state.ToolUsageRecord) error {
	r.records = append(r.records, rec)
	return nil
}

func newRegistry(t *testing.T, tool *stubTool) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()
	if err := reg.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestDispatchUnknownTool(t *testing.T) {
	d := New(tools.NewRegistry(), safety.NewValidator(), nil, nil, time.Second)
	result := d.Execute(context.Background(), 1, "does_not_exist", nil)
	if result.Success {
		t.Fatalf("expected failure for unknown tool")
	}
}

func TestDispatchSafetyBlockSkipsExecution(t *testing.T) {
	tool := &stubTool{name: "code_exec", output: "ran"}
	d := New(newRegistry(t, tool), safety.NewValidator(), nil, nil, time.Second)

	result := d.Execute(context.Background(), 1, "code_exec", map[string]any{
		"code": "print(os.environ)",
	})
	if result.Success {
		t.Fatalf("expected safety block, got success")
	}
	if tool.invoked {
		t.Fatalf("expected tool to never be invoked once blocked by safety")
	}
}

func TestDispatchTimeout(t *testing.T) {
	tool := &stubTool{name: "slow_tool", delay: 50 * time.Millisecond}
	usage := &recordingUsage{}
	d := New(newRegistry(t, tool), safety.NewValidator(), nil, usage, 5*time.Millisecond)

	result := d.Execute(context.Background(), 3, "slow_tool", nil)
	if result.Success {
		t.Fatalf("expected timeout failure")
	}
	if len(usage.records) != 1 || usage.records[0].Success {
		t.Fatalf("expected one failed usage record, got %+v", usage.records)
	}
}

func TestDispatchSuccessRecordsUsageAndSanitizes(t *testing.T) {
	tool := &stubTool{name: "read_file", output: "file contents here"}
	usage := &recordingUsage{}
	workspace := t.TempDir()
	d := New(newRegistry(t, tool), safety.NewValidator(workspace), nil, usage, time.Second)

	result := d.Execute(context.Background(), 7, "read_file", map[string]any{"path": filepath.Join(workspace, "a.go")})
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Output != "file contents here" {
		t.Fatalf("unexpected output: %q", result.Output)
	}
	if len(usage.records) != 1 || usage.records[0].Iteration != 7 || !usage.records[0].Success {
		t.Fatalf("unexpected usage record: %+v", usage.records)
	}
}

func TestDispatchToolExecuteError(t *testing.T) {
	tool := &stubTool{name: "broken", err: errors.New("boom")}
	d := New(newRegistry(t, tool), safety.NewValidator(), nil, nil, time.Second)

	result := d.Execute(context.Background(), 1, "broken", nil)
	if result.Success || result.Error == "" {
		t.Fatalf("expected propagated tool error, got %+v", result)
	}
}
