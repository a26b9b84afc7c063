package agentloop

import (
	"context"
	"sync"

	"github.com/sentinel-agent/sentinel/internal/logging"
)

// ChatSource identifies which transport a PendingChat arrived on.
type ChatSource string

const (
	ChatSourceWeb      ChatSource = "web"
	ChatSourceTelegram ChatSource = "telegram"
	ChatSourceEmail    ChatSource = "email"
)

// chatQueueSoftCap is the queue depth past which enqueues are logged.
// They are still accepted, never rejected: the loop drains the whole
// batch next iteration regardless.
const chatQueueSoftCap = 50

// ChatResult is delivered to a PendingChat's caller exactly once, built
// from the iteration's Plan.
type ChatResult struct {
	Reply           string
	Model           string
	Provider        string
	Tokens          int
	ActionSummaries []string
}

// PendingChat is one inbound creator message awaiting a reply from the
// next iteration that drains the queue.
type PendingChat struct {
	Message string
	Source  ChatSource

	done         chan ChatResult
	completeOnce sync.Once
}

// NewPendingChat constructs a chat awaiting completion.
func NewPendingChat(message string, source ChatSource) *PendingChat {
	return &PendingChat{Message: message, Source: source, done: make(chan ChatResult, 1)}
}

// Wait blocks until the chat's response future is completed or ctx is
// cancelled.
func (p *PendingChat) Wait(ctx context.Context) (ChatResult, error) {
	select {
	case res := <-p.done:
		return res, nil
	case <-ctx.Done():
		return ChatResult{}, ctx.Err()
	}
}

// Complete resolves the chat's response future exactly once; subsequent
// calls are no-ops.
func (p *PendingChat) Complete(res ChatResult) {
	p.completeOnce.Do(func() {
		p.done <- res
	})
}

// chatQueue is the thread-safe FIFO of PendingChat drained atomically at
// the top of each iteration.
type chatQueue struct {
	mu      sync.Mutex
	pending []*PendingChat
}

func newChatQueue() *chatQueue {
	return &chatQueue{}
}

// enqueue appends one chat. Exceeding the soft cap still succeeds; it
// is only logged.
func (q *chatQueue) enqueue(chat *PendingChat) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, chat)
	if len(q.pending) > chatQueueSoftCap {
		logging.Logger().Warn("pending chat queue exceeds soft cap", "size", len(q.pending), "cap", chatQueueSoftCap)
	}
}

// drain atomically swaps out every currently queued chat.
func (q *chatQueue) drain() []*PendingChat {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	drained := q.pending
	q.pending = nil
	return drained
}
