package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinel-agent/sentinel/internal/memory"
)

// MemoryListTool pages through the long-term vector store by importance.
type MemoryListTool struct {
	Vector *memory.VectorMemory
}

// Name returns the tool name.
func (t MemoryListTool) Name() string {
	return "memory_list"
}

// Description returns the tool description for the model.
func (t MemoryListTool) Description() string {
	return "List long-term memories ordered by importance"
}

// Schema returns the JSON schema for memory_list args.
func (t MemoryListTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit":  map[string]any{"type": "integer", "description": "Max entries to return (default 20)"},
			"offset": map[string]any{"type": "integer", "description": "Entries to skip"},
		},
	}
}

// Permission declares default permission behavior for this tool.
func (t MemoryListTool) Permission() Permission {
	return AutoApprove
}

// Execute lists entries with their ids so follow-up calls can target one.
func (t MemoryListTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if t.Vector == nil {
		return nil, fmt.Errorf("vector memory is not configured")
	}
	limit := intArgOr(args, "limit", 20)
	offset := intArgOr(args, "offset", 0)

	entries, err := t.Vector.GetAll(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &ToolResult{Output: "no memories stored"}, nil
	}

	var b strings.Builder
	for _, e := range entries {
		marker := ""
		if e.Permanent {
			marker = " [permanent]"
		}
		fmt.Fprintf(&b, "%s (%.2f)%s: %s\n", e.ID, e.Importance, marker, e.Content)
	}
	return TruncateOutput(b.String())
}

// MemoryMarkPermanentTool pins one memory entry so decay, TTL expiry,
// and dedup can never remove it.
type MemoryMarkPermanentTool struct {
	Vector *memory.VectorMemory
}

// Name returns the tool name.
func (t MemoryMarkPermanentTool) Name() string {
	return "memory_mark_permanent"
}

// Description returns the tool description for the model.
func (t MemoryMarkPermanentTool) Description() string {
	return "Mark a long-term memory entry permanent so it is never decayed or expired"
}

// Schema returns the JSON schema for memory_mark_permanent args.
func (t MemoryMarkPermanentTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{"type": "string", "description": "Memory entry id from memory_list"},
		},
		"required": []string{"id"},
	}
}

// Permission declares default permission behavior for this tool.
func (t MemoryMarkPermanentTool) Permission() Permission {
	return AutoApprove
}

// Execute pins the entry.
func (t MemoryMarkPermanentTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if t.Vector == nil {
		return nil, fmt.Errorf("vector memory is not configured")
	}
	id, err := stringArg(args, "id")
	if err != nil {
		return nil, err
	}
	if err := t.Vector.MarkPermanent(ctx, id); err != nil {
		return nil, err
	}
	return &ToolResult{Output: fmt.Sprintf("memory %s is now permanent", id)}, nil
}

// MemoryFlushTool clears the non-permanent portion of the vector store.
type MemoryFlushTool struct {
	Vector *memory.VectorMemory
}

// Name returns the tool name.
func (t MemoryFlushTool) Name() string {
	return "memory_flush"
}

// Description returns the tool description for the model.
func (t MemoryFlushTool) Description() string {
	return "Delete all non-permanent long-term memories"
}

// Schema returns the JSON schema for memory_flush args.
func (t MemoryFlushTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Permission declares default permission behavior for this tool.
func (t MemoryFlushTool) Permission() Permission {
	return RequiresApproval
}

// Execute flushes non-permanent entries and reports the count removed.
func (t MemoryFlushTool) Execute(ctx context.Context, args map[string]any) (*ToolResult, error) {
	if t.Vector == nil {
		return nil, fmt.Errorf("vector memory is not configured")
	}
	removed, err := t.Vector.FlushNonPermanent(ctx)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Output: fmt.Sprintf("removed %d non-permanent memories", removed)}, nil
}

func intArgOr(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
