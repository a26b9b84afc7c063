package state

import (
	"context"
	"testing"
)

func TestRecordToolUsageInsertsRow(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewPersistor(db, nil)
	ctx := context.Background()

	if err := p.RecordToolUsage(ctx, ToolUsageRecord{Tool: "read_file", Iteration: 1, DurationMs: 12, Success: true}); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := p.RecordToolUsage(ctx, ToolUsageRecord{Tool: "code_exec", Iteration: 2, DurationMs: 500, Success: false, Error: "timed out"}); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT tool, iteration, success, error FROM tool_usage_log ORDER BY id`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var tool, errCol string
		var iteration, success int
		var errNull *string
		if err := rows.Scan(&tool, &iteration, &success, &errNull); err != nil {
			t.Fatalf("scan: %v", err)
		}
		if errNull != nil {
			errCol = *errNull
		}
		switch count {
		case 0:
			if tool != "read_file" || iteration != 1 || success != 1 || errCol != "" {
				t.Fatalf("unexpected first row: tool=%s iteration=%d success=%d error=%q", tool, iteration, success, errCol)
			}
		case 1:
			if tool != "code_exec" || iteration != 2 || success != 0 || errCol != "timed out" {
				t.Fatalf("unexpected second row: tool=%s iteration=%d success=%d error=%q", tool, iteration, success, errCol)
			}
		}
		count++
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestRecordChatMessageAndMetricInsertRows(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	p := NewPersistor(db, nil)
	ctx := context.Background()

	if err := p.RecordChatMessage(ctx, "web", "creator", "hello"); err != nil {
		t.Fatalf("record chat: %v", err)
	}
	if err := p.RecordChatMessage(ctx, "web", "agent", "hi"); err != nil {
		t.Fatalf("record reply: %v", err)
	}
	if err := p.RecordMetric(ctx, "iteration_duration_ms", 42); err != nil {
		t.Fatalf("record metric: %v", err)
	}

	var chatCount int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages`).Scan(&chatCount); err != nil {
		t.Fatalf("count chat_messages: %v", err)
	}
	if chatCount != 2 {
		t.Fatalf("expected 2 chat rows, got %d", chatCount)
	}

	var name string
	var value float64
	if err := db.QueryRowContext(ctx, `SELECT name, value FROM metrics`).Scan(&name, &value); err != nil {
		t.Fatalf("read metric: %v", err)
	}
	if name != "iteration_duration_ms" || value != 42 {
		t.Fatalf("unexpected metric row: %s=%v", name, value)
	}
}
