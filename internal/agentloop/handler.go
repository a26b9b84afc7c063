package agentloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinel-agent/sentinel/internal/runtime"
)

// ChatHandler adapts a Loop's PendingChat/EnqueueChat protocol to the
// runtime.Handler interface the channel Listeners (CLI, Telegram) drive
// their inbound messages through. ChatHandler never calls an LLM
// itself: it hands the message to the IterationLoop as a creator chat
// message and blocks until the draining iteration completes the chat's
// reply future.
type ChatHandler struct {
	Loop   *Loop
	Source ChatSource
}

// HandleMessage enqueues msg on the Loop and blocks until the draining
// iteration completes the PendingChat's future.
func (h *ChatHandler) HandleMessage(ctx context.Context, w runtime.ResponseWriter, msg *runtime.Message) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}

	chat := h.Loop.EnqueueChat(text, h.Source)
	result, err := chat.Wait(ctx)
	if err != nil {
		return fmt.Errorf("await chat reply: %w", err)
	}

	reply := result.Reply
	if reply == "" {
		reply = "(no reply)"
	}
	return w.WriteMessage(ctx, reply)
}
