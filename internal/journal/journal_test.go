package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.nowFn = func() time.Time { return fixed }

	if err := j.Append(EventPlan, "thinking...", map[string]any{"iteration": 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(EventToolOutput, "ok", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(dir, "2026-03-01.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open day file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []map[string]any
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["event_type"] != EventPlan {
		t.Fatalf("expected event_type %q, got %v", EventPlan, lines[0]["event_type"])
	}
	if lines[0]["content"] != "thinking..." {
		t.Fatalf("unexpected content: %v", lines[0]["content"])
	}
	meta, ok := lines[0]["metadata"].(map[string]any)
	if !ok || meta["iteration"] != float64(1) {
		t.Fatalf("expected metadata.iteration=1, got %v", lines[0]["metadata"])
	}
}

func TestAppendRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 1, 0, 0, time.UTC)

	j.nowFn = func() time.Time { return day1 }
	if err := j.Append(EventPlan, "a", nil); err != nil {
		t.Fatalf("append day1: %v", err)
	}
	j.nowFn = func() time.Time { return day2 }
	if err := j.Append(EventPlan, "b", nil); err != nil {
		t.Fatalf("append day2: %v", err)
	}
	j.Close()

	for _, day := range []string{"2026-03-01.jsonl", "2026-03-02.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, day)); err != nil {
			t.Fatalf("expected file %s to exist: %v", day, err)
		}
	}
}
