package state

import (
	"context"
	"fmt"
	"time"
)

// AddShortTermMemories appends entries, truncating content to
// STMMaxContentLength and capping the total to STMMaxEntries FIFO.
func (p *Persistor) AddShortTermMemories(ctx context.Context, iteration int, contents []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC().Format(time.RFC3339)
	for _, c := range contents {
		if len(c) > STMMaxContentLength {
			c = c[:STMMaxContentLength]
		}
		if _, err := p.db.ExecContext(ctx, `INSERT INTO short_term_memory (content, created_at, iteration) VALUES (?, ?, ?)`,
			c, now, iteration); err != nil {
			return fmt.Errorf("insert short_term_memory: %w", err)
		}
	}
	return p.evictOverflowLocked(ctx)
}

// ReplaceShortTermMemories clears all entries and inserts the given ones.
func (p *Persistor) ReplaceShortTermMemories(ctx context.Context, iteration int, contents []string) error {
	p.mu.Lock()
	if _, err := p.db.ExecContext(ctx, `DELETE FROM short_term_memory`); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("clear short_term_memory: %w", err)
	}
	p.mu.Unlock()
	return p.AddShortTermMemories(ctx, iteration, truncateSlice(contents, STMMaxEntries))
}

// RemoveShortTermMemories deletes entries at the given zero-based indices
// (in current insertion order), ignoring out-of-range indices.
func (p *Persistor) RemoveShortTermMemories(ctx context.Context, indices []int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rows, err := p.db.QueryContext(ctx, `SELECT id FROM short_term_memory ORDER BY id ASC`)
	if err != nil {
		return fmt.Errorf("query short_term_memory ids: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan short_term_memory id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	toDelete := map[int]bool{}
	for _, idx := range indices {
		if idx >= 0 && idx < len(ids) {
			toDelete[idx] = true
		}
	}
	for idx := range toDelete {
		if _, err := p.db.ExecContext(ctx, `DELETE FROM short_term_memory WHERE id = ?`, ids[idx]); err != nil {
			return fmt.Errorf("delete short_term_memory %d: %w", ids[idx], err)
		}
	}
	return nil
}

// ClearShortTermMemories removes all entries.
func (p *Persistor) ClearShortTermMemories(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.db.ExecContext(ctx, `DELETE FROM short_term_memory`); err != nil {
		return fmt.Errorf("clear short_term_memory: %w", err)
	}
	return nil
}

// MaintainShortTermMemories evicts entries older than STMMaxAgeHours and
// enforces the FIFO overflow cap. Intended to be called periodically by
// the iteration loop's maintenance pass.
func (p *Persistor) MaintainShortTermMemories(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-STMMaxAgeHours * time.Hour).UTC().Format(time.RFC3339)
	if _, err := p.db.ExecContext(ctx, `DELETE FROM short_term_memory WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("evict expired short_term_memory: %w", err)
	}
	return p.evictOverflowLocked(ctx)
}

func (p *Persistor) evictOverflowLocked(ctx context.Context) error {
	var count int
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM short_term_memory`).Scan(&count); err != nil {
		return fmt.Errorf("count short_term_memory: %w", err)
	}
	if count <= STMMaxEntries {
		return nil
	}
	overflow := count - STMMaxEntries
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM short_term_memory WHERE id IN (SELECT id FROM short_term_memory ORDER BY id ASC LIMIT ?)`, overflow); err != nil {
		return fmt.Errorf("evict overflow short_term_memory: %w", err)
	}
	return nil
}

func truncateSlice(s []string, max int) []string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
