package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Persistor is the durable wrapper over AgentState. Mutations of the
// AgentState row and of short-term memory are serialized through the
// Persistor's mutex; the append-only writers (RecordChatMessage,
// RecordMetric, RecordToolUsage) do not take it.
type Persistor struct {
	db    *sql.DB
	log   *slog.Logger
	mu    sync.Mutex
	nowFn func() time.Time
}

// NewPersistor wraps an opened, migrated *sql.DB.
func NewPersistor(db *sql.DB, logger *slog.Logger) *Persistor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persistor{db: db, log: logger, nowFn: time.Now}
}

func (p *Persistor) now() time.Time {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return time.Now()
}

// LoadOrCreate returns the singleton AgentState, creating it with seeded
// defaults on first use.
func (p *Persistor) LoadOrCreate(ctx context.Context) (AgentState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok, err := p.loadLocked(ctx)
	if err != nil {
		return AgentState{}, err
	}
	if ok {
		return state, nil
	}

	now := p.now()
	state = AgentState{
		Directive: "",
		Goals: Goals{
			ShortTerm: append([]string(nil), DefaultShortTermGoals...),
			MidTerm:   append([]string(nil), DefaultMidTermGoals...),
			LongTerm:  append([]string(nil), DefaultLongTermGoals...),
		},
		CurrentGoals:  append([]string(nil), DefaultShortTermGoals...),
		StartedAt:     now,
		LastHeartbeat: now,
	}
	if err := p.insertLocked(ctx, state); err != nil {
		return AgentState{}, err
	}
	return state, nil
}

func (p *Persistor) loadLocked(ctx context.Context) (AgentState, bool, error) {
	row := p.db.QueryRowContext(ctx, `SELECT directive, short_term_goals, mid_term_goals, long_term_goals,
		current_goals, active_task, iteration, paused, started_at, last_heartbeat FROM agent_state WHERE id = 1`)

	var directive, shortJSON, midJSON, longJSON, currentJSON, activeTask, startedAt, heartbeat string
	var iteration int
	var paused bool
	err := row.Scan(&directive, &shortJSON, &midJSON, &longJSON, &currentJSON, &activeTask, &iteration, &paused, &startedAt, &heartbeat)
	if err == sql.ErrNoRows {
		return AgentState{}, false, nil
	}
	if err != nil {
		return AgentState{}, false, fmt.Errorf("load agent_state: %w", err)
	}

	state := AgentState{
		Directive:  directive,
		ActiveTask: activeTask,
		Iteration:  iteration,
		Paused:     paused,
	}
	_ = json.Unmarshal([]byte(shortJSON), &state.Goals.ShortTerm)
	_ = json.Unmarshal([]byte(midJSON), &state.Goals.MidTerm)
	_ = json.Unmarshal([]byte(longJSON), &state.Goals.LongTerm)
	_ = json.Unmarshal([]byte(currentJSON), &state.CurrentGoals)
	state.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
	state.LastHeartbeat, _ = time.Parse(time.RFC3339, heartbeat)

	entries, err := p.loadSTMLocked(ctx)
	if err != nil {
		return AgentState{}, false, err
	}
	state.ShortTermMemories = entries
	return state, true, nil
}

func (p *Persistor) loadSTMLocked(ctx context.Context) ([]ShortTermMemoryEntry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT content, created_at, iteration FROM short_term_memory ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query short_term_memory: %w", err)
	}
	defer rows.Close()

	var entries []ShortTermMemoryEntry
	for rows.Next() {
		var content, createdAt string
		var iteration int
		if err := rows.Scan(&content, &createdAt, &iteration); err != nil {
			return nil, fmt.Errorf("scan short_term_memory: %w", err)
		}
		ts, _ := time.Parse(time.RFC3339, createdAt)
		entries = append(entries, ShortTermMemoryEntry{Content: content, CreatedAt: ts, Iteration: iteration})
	}
	return entries, rows.Err()
}

func (p *Persistor) insertLocked(ctx context.Context, s AgentState) error {
	shortJSON, _ := json.Marshal(s.Goals.ShortTerm)
	midJSON, _ := json.Marshal(s.Goals.MidTerm)
	longJSON, _ := json.Marshal(s.Goals.LongTerm)
	currentJSON, _ := json.Marshal(s.CurrentGoals)

	_, err := p.db.ExecContext(ctx, `INSERT INTO agent_state
		(id, directive, short_term_goals, mid_term_goals, long_term_goals, current_goals, active_task, iteration, paused, started_at, last_heartbeat)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Directive, string(shortJSON), string(midJSON), string(longJSON), string(currentJSON),
		s.ActiveTask, s.Iteration, s.Paused, s.StartedAt.UTC().Format(time.RFC3339), s.LastHeartbeat.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert agent_state: %w", err)
	}
	return nil
}

// Patch describes a partial update to AgentState; nil fields are left
// unchanged.
type Patch struct {
	Directive    *string
	Goals        *Goals
	ActiveTask   *string
	CurrentGoals []string
}

// Update applies a partial update to AgentState.
func (p *Persistor) Update(ctx context.Context, patch Patch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if patch.Directive != nil {
		if _, err := p.db.ExecContext(ctx, `UPDATE agent_state SET directive = ? WHERE id = 1`, *patch.Directive); err != nil {
			return fmt.Errorf("update directive: %w", err)
		}
	}
	if patch.Goals != nil {
		shortJSON, _ := json.Marshal(patch.Goals.ShortTerm)
		midJSON, _ := json.Marshal(patch.Goals.MidTerm)
		longJSON, _ := json.Marshal(patch.Goals.LongTerm)
		if _, err := p.db.ExecContext(ctx, `UPDATE agent_state SET short_term_goals = ?, mid_term_goals = ?, long_term_goals = ? WHERE id = 1`,
			string(shortJSON), string(midJSON), string(longJSON)); err != nil {
			return fmt.Errorf("update goals: %w", err)
		}
	}
	if patch.ActiveTask != nil {
		if _, err := p.db.ExecContext(ctx, `UPDATE agent_state SET active_task = ? WHERE id = 1`, *patch.ActiveTask); err != nil {
			return fmt.Errorf("update active_task: %w", err)
		}
	}
	if patch.CurrentGoals != nil {
		currentJSON, _ := json.Marshal(patch.CurrentGoals)
		if _, err := p.db.ExecContext(ctx, `UPDATE agent_state SET current_goals = ? WHERE id = 1`, string(currentJSON)); err != nil {
			return fmt.Errorf("update current_goals: %w", err)
		}
	}
	return nil
}

// RecordChatMessage appends one chat_messages row: a creator message or
// the agent's reply, keyed by the transport channel it moved over.
func (p *Persistor) RecordChatMessage(ctx context.Context, channel, sender, text string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO chat_messages (channel, sender, text, created_at, delivered) VALUES (?, ?, ?, ?, 1)`,
		channel, sender, text, p.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record chat message: %w", err)
	}
	return nil
}

// RecordMetric appends one metrics row.
func (p *Persistor) RecordMetric(ctx context.Context, name string, value float64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO metrics (name, value, recorded_at) VALUES (?, ?, ?)`,
		name, value, p.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record metric %s: %w", name, err)
	}
	return nil
}

// Heartbeat sets last_heartbeat to now. Non-decreasing across calls.
func (p *Persistor) Heartbeat(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.db.ExecContext(ctx, `UPDATE agent_state SET last_heartbeat = ? WHERE id = 1`, p.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// IncrementIteration atomically increments and returns the new iteration
// count.
func (p *Persistor) IncrementIteration(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.db.ExecContext(ctx, `UPDATE agent_state SET iteration = iteration + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("increment iteration: %w", err)
	}
	var iteration int
	if err := p.db.QueryRowContext(ctx, `SELECT iteration FROM agent_state WHERE id = 1`).Scan(&iteration); err != nil {
		return 0, fmt.Errorf("read iteration: %w", err)
	}
	return iteration, nil
}

// IsPaused reports the current pause flag.
func (p *Persistor) IsPaused(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var paused bool
	if err := p.db.QueryRowContext(ctx, `SELECT paused FROM agent_state WHERE id = 1`).Scan(&paused); err != nil {
		return false, fmt.Errorf("read paused: %w", err)
	}
	return paused, nil
}

// SetPaused toggles the pause flag.
func (p *Persistor) SetPaused(ctx context.Context, paused bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.db.ExecContext(ctx, `UPDATE agent_state SET paused = ? WHERE id = 1`, paused); err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}
