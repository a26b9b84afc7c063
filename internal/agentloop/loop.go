// Package agentloop implements the IterationLoop: the agent's
// heartbeat. It is the one place that wires together the
// Planner, ToolDispatcher, StatePersistor, VectorMemory, and BudgetStore
// into the per-iteration state machine, and owns the wake/sleep,
// pause/resume, and creator-chat fan-in concurrency primitives.
package agentloop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sentinel-agent/sentinel/internal/budget"
	"github.com/sentinel-agent/sentinel/internal/dispatch"
	"github.com/sentinel-agent/sentinel/internal/journal"
	"github.com/sentinel-agent/sentinel/internal/logging"
	"github.com/sentinel-agent/sentinel/internal/memory"
	"github.com/sentinel-agent/sentinel/internal/planner"
	"github.com/sentinel-agent/sentinel/internal/state"
	"github.com/sentinel-agent/sentinel/internal/tools"
)

// pausedPollInterval is how often a paused loop re-checks its pause flag.
const pausedPollInterval = 5 * time.Second

// maintenanceEvery/deduplicateEvery set the periodic housekeeping
// cadence, in iterations.
const (
	maintenanceEvery = 10
	deduplicateEvery = 50
)

// workingMemoryCompressThreshold is the message count past which
// maintenance collapses older working-memory turns into one summary
// message via WorkingMemory.SummarizeAndCompress.
const workingMemoryCompressThreshold = 20

// substantiveTools is the loop-owned whitelist of tool names whose
// results are worth writing into VectorMemory. Deliberately a loop-owned
// constant, not a tool-declared property.
var substantiveTools = map[string]bool{
	"run_command":  true,
	"write_file":   true,
	"web_search":   true,
	"http_request": true,
	"send_message": true,
	"job_create":   true,
	"job_run":      true,
}

// StatePersistor is the subset of *state.Persistor the loop depends on.
type StatePersistor interface {
	LoadOrCreate(ctx context.Context) (state.AgentState, error)
	Update(ctx context.Context, patch state.Patch) error
	Heartbeat(ctx context.Context) error
	IncrementIteration(ctx context.Context) (int, error)
	IsPaused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
	AddShortTermMemories(ctx context.Context, iteration int, contents []string) error
	ReplaceShortTermMemories(ctx context.Context, iteration int, contents []string) error
	RemoveShortTermMemories(ctx context.Context, indices []int) error
	MaintainShortTermMemories(ctx context.Context) error
	RecordChatMessage(ctx context.Context, channel, sender, text string) error
	RecordMetric(ctx context.Context, name string, value float64) error
}

// Planner is the subset of *planner.Planner the loop depends on.
type Planner interface {
	Plan(ctx context.Context, in planner.PromptInputs, forceFullPlan bool) (*planner.Plan, string, error)
	SetLastIterationSummary(summary string)
	Working() *memory.WorkingMemory
}

// Dispatcher is the subset of *dispatch.Dispatcher the loop depends on.
type Dispatcher interface {
	Execute(ctx context.Context, iteration int, toolName string, parameters map[string]any) dispatch.Result
}

// VectorMemory is the subset of *memory.VectorMemory the loop depends on.
type VectorMemory interface {
	Add(ctx context.Context, content string, importance float64, permanent bool, ttl *time.Duration) (memory.Entry, error)
	Search(ctx context.Context, query string, k int, relevanceThreshold float64) ([]memory.Entry, error)
	DecayImportance(ctx context.Context, factor float64) (int, error)
	PruneExpired(ctx context.Context) (int, error)
	Deduplicate(ctx context.Context) (int, error)
}

// BudgetStore is the subset of *budget.Store the loop depends on.
type BudgetStore interface {
	GetStatus(ctx context.Context) (budget.Status, error)
}

// ToolCatalog supplies the tool list surfaced in the Prompt Builder's
// tools section, and the registry the Dispatcher executes against is
// reached independently through Dispatcher.
type ToolCatalog interface {
	Tools() []tools.Tool
}

// SkillsLister returns the current skills/*.md catalog for the prompt's
// skills section.
type SkillsLister func() []memory.Skill

// Deps bundles every collaborator the Loop drives per iteration.
type Deps struct {
	Directive  string
	State      StatePersistor
	Planner    Planner
	Dispatcher Dispatcher
	Vector     VectorMemory
	Budget     BudgetStore
	Journal    *journal.Journal
	Tools      ToolCatalog
	Skills     SkillsLister
}

// Loop is the IterationLoop: a single long-lived task driving the
// observe/plan/act/sleep cycle. Only the loop's own goroutine mutates
// AgentState, the Planner's working memory, and the loop-detection ring
// buffer; every other interaction goes through the chat queue, the wake
// channel, or the pause flag.
type Loop struct {
	deps  Deps
	chats *chatQueue

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	observers *observerSet

	stopOnce sync.Once
}

// New builds a Loop. Call Run to start it.
func New(deps Deps) *Loop {
	return &Loop{
		deps:      deps,
		chats:     newChatQueue(),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		observers: newObserverSet(),
	}
}

// Subscribe registers a best-effort broadcast Observer.
func (l *Loop) Subscribe(o Observer) {
	l.observers.Subscribe(o)
}

// Wake interrupts the current inter-iteration sleep. Idempotent:
// calling it multiple times before the loop consumes the signal has the
// same effect as calling it once (an auto-reset single-fire latch).
func (l *Loop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// EnqueueChat pushes a creator message onto the thread-safe queue and
// wakes the loop; the next iteration drains the batch and completes
// each chat's reply future.
func (l *Loop) EnqueueChat(message string, source ChatSource) *PendingChat {
	chat := NewPendingChat(message, source)
	l.chats.enqueue(chat)
	l.Wake()
	return chat
}

// Pause idempotently sets the pause flag.
func (l *Loop) Pause(ctx context.Context) error {
	return l.deps.State.SetPaused(ctx, true)
}

// Resume idempotently clears the pause flag and wakes the loop.
func (l *Loop) Resume(ctx context.Context) error {
	if err := l.deps.State.SetPaused(ctx, false); err != nil {
		return err
	}
	l.Wake()
	return nil
}

// GetStatus returns a read-only snapshot of the durable agent state,
// part of the control surface an HTTP layer consumes.
func (l *Loop) GetStatus(ctx context.Context) (state.AgentState, error) {
	return l.deps.State.LoadOrCreate(ctx)
}

// GetBudgetStatus is the budget half of the same control surface.
func (l *Loop) GetBudgetStatus(ctx context.Context) (budget.Status, error) {
	return l.deps.Budget.GetStatus(ctx)
}

// Stop requests a graceful shutdown: the loop finishes its current
// iteration's execute+journal phase, then exits before its next sleep.
// Stop blocks until the loop goroutine has exited.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

// Run drives the iteration loop until ctx is cancelled or Stop is
// called. Each iteration is independent; a returned error from a single
// iteration is handled internally (journaled, broadcast, slept through)
// rather than propagated; Run itself only returns on context
// cancellation or Stop.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		default:
		}

		paused, err := l.deps.State.IsPaused(ctx)
		if err != nil {
			logging.Logger().Error("check paused flag failed", "err", err)
			if !l.interruptibleSleep(ctx, pausedPollInterval) {
				return nil
			}
			continue
		}
		if paused {
			l.observers.Broadcast(Broadcast{Status: StatusPaused})
			if !l.interruptibleSleep(ctx, pausedPollInterval) {
				return nil
			}
			continue
		}

		sleepSeconds, iterErr := l.runIteration(ctx)
		if iterErr != nil {
			logging.Logger().Error("iteration failed", "err", iterErr)
			l.logEvent(journal.EventError, iterErr.Error(), nil)
			l.observers.Broadcast(Broadcast{Status: StatusError, Message: iterErr.Error()})
			sleepSeconds = defaultSleepSeconds
		}

		if !l.interruptibleSleep(ctx, time.Duration(sleepSeconds*float64(time.Second))) {
			return nil
		}
	}
}

// interruptibleSleep blocks for d, or until Wake()/ctx cancellation/Stop
// fires, clearing the wake latch before returning so the next sleep
// starts fresh. Returns false if the loop should exit.
func (l *Loop) interruptibleSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	case <-timer.C:
		return true
	case <-l.wake:
		return true
	}
}

// runIteration executes one full pass of the per-iteration state
// machine and returns the next sleep duration.
func (l *Loop) runIteration(ctx context.Context) (float64, error) {
	iterStart := time.Now()

	agentState, err := l.deps.State.LoadOrCreate(ctx)
	if err != nil {
		return defaultSleepSeconds, fmt.Errorf("load agent state: %w", err)
	}

	iteration, err := l.deps.State.IncrementIteration(ctx)
	if err != nil {
		return defaultSleepSeconds, fmt.Errorf("increment iteration: %w", err)
	}
	if err := l.deps.State.Heartbeat(ctx); err != nil {
		return defaultSleepSeconds, fmt.Errorf("heartbeat: %w", err)
	}

	budgetStatus, err := l.deps.Budget.GetStatus(ctx)
	if err != nil {
		return defaultSleepSeconds, fmt.Errorf("budget status: %w", err)
	}

	chats := l.chats.drain()

	in := planner.PromptInputs{
		Directive:         directiveOrDefault(l.deps.Directive, agentState.Directive),
		Goals:             agentState.Goals,
		ActiveTask:        agentState.ActiveTask,
		Iteration:         iteration,
		ShortTermMemories: agentState.ShortTermMemories,
		BudgetStatus:      budgetStatus,
		PendingChatCount:  len(chats),
	}
	if len(chats) > 0 {
		in.LastChatMessage = chats[len(chats)-1].Message
	}
	if l.deps.Tools != nil {
		in.Tools = l.deps.Tools.Tools()
	}
	if l.deps.Skills != nil {
		in.Skills = l.deps.Skills()
	}
	if l.deps.Vector != nil {
		query := strings.Join(append(append([]string{}, agentState.Goals.ShortTerm...), agentState.ActiveTask, in.LastChatMessage), " ")
		if strings.TrimSpace(query) != "" {
			retrieved, err := l.deps.Vector.Search(ctx, query, retrievalCountOr5(), relevanceThresholdDefault)
			if err != nil {
				logging.Logger().Warn("memory retrieval failed", "err", err)
			} else {
				in.RetrievedMemories = retrieved
			}
		}
	}

	l.observers.Broadcast(Broadcast{Status: StatusPlanning, Iteration: iteration})

	plan, _, err := l.deps.Planner.Plan(ctx, in, false)
	if err != nil {
		l.failPendingChats(chats, "")
		return defaultSleepSeconds, fmt.Errorf("plan iteration %d: %w", iteration, err)
	}

	var results []dispatch.Result
	for _, action := range plan.Actions {
		result := l.deps.Dispatcher.Execute(ctx, iteration, action.Tool, action.Parameters)
		results = append(results, result)
		l.recordSubstantiveResult(ctx, action.Tool, result)
	}

	summary := buildResultsSummary(results)
	if summary != "" {
		l.deps.Planner.SetLastIterationSummary(summary)
	}

	l.completePendingChats(ctx, chats, plan, results)

	if err := l.applyPlanDeltas(ctx, iteration, plan); err != nil {
		logging.Logger().Warn("apply plan deltas failed", "err", err)
	}

	if plan.StatusMessage != "" {
		status := plan.StatusMessage
		if err := l.deps.State.Update(ctx, state.Patch{ActiveTask: &status}); err != nil {
			logging.Logger().Warn("update active_task failed", "err", err)
		}
	}

	if iteration%maintenanceEvery == 0 {
		l.runMaintenance(ctx)
	}
	if iteration%deduplicateEvery == 0 && l.deps.Vector != nil {
		if _, err := l.deps.Vector.Deduplicate(ctx); err != nil {
			logging.Logger().Warn("deduplicate failed", "err", err)
		}
	}

	sleepSeconds := computeSleep(plan, budgetStatus, len(plan.Actions) > 0)

	if err := l.deps.State.RecordMetric(ctx, "iteration_duration_ms", float64(time.Since(iterStart).Milliseconds())); err != nil {
		logging.Logger().Warn("record iteration metric failed", "err", err)
	}

	l.observers.Broadcast(Broadcast{
		Status:          StatusIdle,
		Iteration:       iteration,
		NextWakeSeconds: sleepSeconds,
		Budget:          budgetStatus,
		Model:           plan.Response.Model,
		Provider:        plan.Response.Provider,
	})

	return sleepSeconds, nil
}

func directiveOrDefault(configured, stored string) string {
	if strings.TrimSpace(stored) != "" {
		return stored
	}
	return configured
}

const (
	relevanceThresholdDefault = 0.3
)

func retrievalCountOr5() int { return 5 }

// recordSubstantiveResult writes a tool's outcome into VectorMemory,
// but only for the loop-owned whitelist. Failures carry elevated
// importance so the agent sees its own failures next iteration.
func (l *Loop) recordSubstantiveResult(ctx context.Context, tool string, result dispatch.Result) {
	if l.deps.Vector == nil || !substantiveTools[tool] {
		return
	}
	if result.Success {
		content := truncateRunes(fmt.Sprintf("[%s] %s", tool, result.Output), 500)
		if _, err := l.deps.Vector.Add(ctx, content, 0.5, false, nil); err != nil {
			logging.Logger().Warn("write tool result to vector memory failed", "tool", tool, "err", err)
		}
		return
	}
	content := truncateRunes(fmt.Sprintf("[%s FAILED] %s", tool, result.Error), 300)
	if _, err := l.deps.Vector.Add(ctx, content, 0.6, false, nil); err != nil {
		logging.Logger().Warn("write tool failure to vector memory failed", "tool", tool, "err", err)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// buildResultsSummary renders a markdown "results from N action(s)"
// block carried into the next iteration's prompt.
func buildResultsSummary(results []dispatch.Result) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Results from %d action(s):\n", len(results))
	for _, r := range results {
		status := "ok"
		detail := r.Output
		if !r.Success {
			status = "failed"
			detail = r.Error
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", r.Tool, status, truncateRunes(detail, 300))
	}
	return b.String()
}

// completePendingChats resolves every drained PendingChat exactly once
// with the iteration's chat_reply, falling back to thinking text or the
// status message.
func (l *Loop) completePendingChats(ctx context.Context, chats []*PendingChat, plan *planner.Plan, results []dispatch.Result) {
	if len(chats) == 0 {
		return
	}
	reply := plan.ChatReply
	if reply == "" {
		reply = truncateRunes(plan.Thinking, 2000)
	}
	if reply == "" {
		reply = plan.StatusMessage
	}

	summaries := make([]string, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, fmt.Sprintf("%s: %v", r.Tool, r.Success))
	}

	res := ChatResult{
		Reply:           reply,
		Model:           plan.Response.Model,
		Provider:        plan.Response.Provider,
		Tokens:          plan.Response.Tokens,
		ActionSummaries: summaries,
	}
	for _, chat := range chats {
		l.logEvent(journal.EventChatCreator, chat.Message, map[string]any{"source": string(chat.Source)})
		l.logEvent(journal.EventChatReply, reply, map[string]any{"source": string(chat.Source)})
		if err := l.deps.State.RecordChatMessage(ctx, string(chat.Source), "creator", chat.Message); err != nil {
			logging.Logger().Warn("record creator chat failed", "err", err)
		}
		if err := l.deps.State.RecordChatMessage(ctx, string(chat.Source), "agent", reply); err != nil {
			logging.Logger().Warn("record chat reply failed", "err", err)
		}
		chat.Complete(res)
	}
}

// failPendingChats resolves pending chats with best-effort text when a
// hard planning failure means no real chat_reply was produced, so
// callers never block forever.
func (l *Loop) failPendingChats(chats []*PendingChat, thinking string) {
	for _, chat := range chats {
		chat.Complete(ChatResult{Reply: thinking})
	}
}

// applyPlanDeltas applies goals_update, short_term_memories_update, and
// memory_config from a Plan.
func (l *Loop) applyPlanDeltas(ctx context.Context, iteration int, plan *planner.Plan) error {
	if plan.GoalsUpdate != nil {
		goals := resolveGoalsUpdate(*plan.GoalsUpdate)
		if err := l.deps.State.Update(ctx, state.Patch{Goals: &goals, CurrentGoals: goals.ShortTerm}); err != nil {
			return fmt.Errorf("apply goals_update: %w", err)
		}
	} else if iteration%5 == 0 {
		l.logEvent(journal.EventWarning, "goals_update_missing_on_review_iteration", map[string]any{"iteration": iteration})
	}

	if u := plan.ShortTermMemoriesUpdate; u != nil {
		if len(u.Replace) > 0 {
			if err := l.deps.State.ReplaceShortTermMemories(ctx, iteration, u.Replace); err != nil {
				return fmt.Errorf("replace short_term_memories: %w", err)
			}
		}
		if len(u.Add) > 0 {
			if err := l.deps.State.AddShortTermMemories(ctx, iteration, u.Add); err != nil {
				return fmt.Errorf("add short_term_memories: %w", err)
			}
		}
		if len(u.Remove) > 0 {
			if err := l.deps.State.RemoveShortTermMemories(ctx, u.Remove); err != nil {
				return fmt.Errorf("remove short_term_memories: %w", err)
			}
		}
	}

	if plan.MemoryConfig != nil {
		patch := memory.Config{
			MaxContextTokens:   plan.MemoryConfig.MaxContextTokens,
			RetrievalCount:     plan.MemoryConfig.RetrievalCount,
			DecayFactor:        plan.MemoryConfig.DecayFactor,
			RelevanceThreshold: plan.MemoryConfig.RelevanceThreshold,
		}
		l.deps.Planner.Working().UpdateConfig(patch)
	}

	return nil
}

func resolveGoalsUpdate(u planner.GoalsUpdate) state.Goals {
	if len(u.FlatList) > 0 {
		return state.Goals{ShortTerm: u.FlatList}
	}
	return state.Goals{ShortTerm: u.ShortTerm, MidTerm: u.MidTerm, LongTerm: u.LongTerm}
}

// runMaintenance decays importance, prunes expired memories, and
// maintains short-term memory, every maintenanceEvery'th iteration.
func (l *Loop) runMaintenance(ctx context.Context) {
	if l.deps.Vector != nil {
		decayFactor := l.deps.Planner.Working().Config().DecayFactor
		if _, err := l.deps.Vector.DecayImportance(ctx, decayFactor); err != nil {
			logging.Logger().Warn("decay importance failed", "err", err)
		}
		if _, err := l.deps.Vector.PruneExpired(ctx); err != nil {
			logging.Logger().Warn("prune expired memories failed", "err", err)
		}
	}
	if err := l.deps.State.MaintainShortTermMemories(ctx); err != nil {
		logging.Logger().Warn("maintain short-term memories failed", "err", err)
	}
	if l.deps.Planner != nil {
		l.compressWorkingMemoryIfNeeded()
	}
}

// compressWorkingMemoryIfNeeded collapses older working-memory turns into
// a single system-message summary once the rolling buffer grows past
// workingMemoryCompressThreshold messages, keeping the last two intact.
func (l *Loop) compressWorkingMemoryIfNeeded() {
	working := l.deps.Planner.Working()
	msgs := working.GetMessagesForLLM()
	if len(msgs) <= workingMemoryCompressThreshold {
		return
	}
	older := msgs[:len(msgs)-2]
	parts := make([]string, 0, len(older))
	for _, m := range older {
		parts = append(parts, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	summary := "Earlier context summary:\n" + strings.Join(parts, "\n")
	working.SummarizeAndCompress(summary)
}

func (l *Loop) logEvent(eventType, content string, metadata map[string]any) {
	if l.deps.Journal == nil {
		return
	}
	_ = l.deps.Journal.Append(eventType, content, metadata)
}

// sortedToolNames returns a ToolCatalog's tool names in sorted order.
func sortedToolNames(catalog ToolCatalog) []string {
	if catalog == nil {
		return nil
	}
	names := make([]string, 0)
	for _, t := range catalog.Tools() {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}
