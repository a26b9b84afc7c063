package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ToolUsageRecord is one append-only row in tool_usage_log: a single
// dispatched tool call and its outcome.
type ToolUsageRecord struct {
	Tool       string
	Iteration  int
	DurationMs int64
	Success    bool
	Error      string
}

// RecordToolUsage appends one tool_usage_log row. It does not take the
// Persistor's mutex: the log is append-only and never read back through
// AgentState, so concurrent writers never race on shared state.
func (p *Persistor) RecordToolUsage(ctx context.Context, rec ToolUsageRecord) error {
	errCol := sql.NullString{}
	if rec.Error != "" {
		errCol = sql.NullString{String: rec.Error, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tool_usage_log (tool, iteration, duration_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Tool, rec.Iteration, rec.DurationMs, boolToInt(rec.Success), errCol, p.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record tool usage for %s: %w", rec.Tool, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
