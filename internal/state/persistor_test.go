package state

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestLoadOrCreateSeedsDefaults(t *testing.T) {
	t.Parallel()
	p := NewPersistor(newTestDB(t), nil)
	ctx := context.Background()

	s, err := p.LoadOrCreate(ctx)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if len(s.Goals.ShortTerm) == 0 {
		t.Fatalf("expected seeded short-term goals")
	}

	s2, err := p.LoadOrCreate(ctx)
	if err != nil {
		t.Fatalf("load or create again: %v", err)
	}
	if s2.Iteration != s.Iteration {
		t.Fatalf("expected idempotent load, got different iterations %d vs %d", s.Iteration, s2.Iteration)
	}
}

func TestIncrementIterationMonotonic(t *testing.T) {
	t.Parallel()
	p := NewPersistor(newTestDB(t), nil)
	ctx := context.Background()
	if _, err := p.LoadOrCreate(ctx); err != nil {
		t.Fatalf("load or create: %v", err)
	}

	for i := 1; i <= 3; i++ {
		n, err := p.IncrementIteration(ctx)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if n != i {
			t.Fatalf("expected iteration %d, got %d", i, n)
		}
	}
}

func TestShortTermMemoryOverflowEvictsOldest(t *testing.T) {
	t.Parallel()
	p := NewPersistor(newTestDB(t), nil)
	ctx := context.Background()
	if _, err := p.LoadOrCreate(ctx); err != nil {
		t.Fatalf("load or create: %v", err)
	}

	for i := 0; i < STMMaxEntries+5; i++ {
		if err := p.AddShortTermMemories(ctx, i, []string{"entry"}); err != nil {
			t.Fatalf("add entry %d: %v", i, err)
		}
	}

	s, err := p.LoadOrCreate(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(s.ShortTermMemories) != STMMaxEntries {
		t.Fatalf("expected cap of %d entries, got %d", STMMaxEntries, len(s.ShortTermMemories))
	}
	if s.ShortTermMemories[0].Iteration != 5 {
		t.Fatalf("expected oldest surviving entry from iteration 5, got %d", s.ShortTermMemories[0].Iteration)
	}
}

func TestMaintainShortTermMemoriesEvictsExpired(t *testing.T) {
	t.Parallel()
	p := NewPersistor(newTestDB(t), nil)
	ctx := context.Background()
	if _, err := p.LoadOrCreate(ctx); err != nil {
		t.Fatalf("load or create: %v", err)
	}

	old := time.Now().Add(-72 * time.Hour)
	p.nowFn = func() time.Time { return old }
	if err := p.AddShortTermMemories(ctx, 1, []string{"stale"}); err != nil {
		t.Fatalf("add stale entry: %v", err)
	}

	p.nowFn = time.Now
	if err := p.AddShortTermMemories(ctx, 2, []string{"fresh"}); err != nil {
		t.Fatalf("add fresh entry: %v", err)
	}

	if err := p.MaintainShortTermMemories(ctx); err != nil {
		t.Fatalf("maintain: %v", err)
	}

	s, err := p.LoadOrCreate(ctx)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(s.ShortTermMemories) != 1 || s.ShortTermMemories[0].Content != "fresh" {
		t.Fatalf("expected only the fresh entry to survive, got %+v", s.ShortTermMemories)
	}
}
