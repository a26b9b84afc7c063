// Package journal implements the append-only, JSON-lines Journal and Log
// streams: one file per UTC day, written with
// zerolog's JSON encoder. This is distinct from internal/logging's
// colorized slog console stream: the journal is the durable,
// machine-readable record the rest of the core consumes for
// observability and post-hoc analysis.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType enumerates the kinds of entries the journal records. The set
// is open-ended in practice (callers may pass arbitrary strings); these
// constants cover the events the core emits itself.
const (
	EventPlan        = "plan"
	EventToolOutput  = "tool_output"
	EventChatCreator = "chat_creator"
	EventChatReply   = "chat_jarvis"
	EventError       = "error"
	EventWarning     = "warning"
)

// Entry is one journal line: {timestamp, event_type, content, metadata}.
type Entry struct {
	Timestamp time.Time
	EventType string
	Content   string
	Metadata  map[string]any
}

// Journal appends structured entries to one JSON-lines file per UTC day
// under dir (e.g. "blob/" or "logs/"). Files are opened in O_APPEND
// mode; the in-process mutex serializes rotation and writes within this
// process, but does not coordinate writes across processes.
type Journal struct {
	dir   string
	mu    sync.Mutex
	day   string
	file  *os.File
	log   zerolog.Logger
	nowFn func() time.Time
}

// Open returns a Journal rooted at dir, creating dir if needed.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %s: %w", dir, err)
	}
	return &Journal{dir: dir, nowFn: time.Now}, nil
}

func (j *Journal) now() time.Time {
	if j.nowFn != nil {
		return j.nowFn()
	}
	return time.Now()
}

// Append writes one entry, rotating to a new day file when UTC date
// changes.
func (j *Journal) Append(eventType, content string, metadata map[string]any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now()
	if err := j.ensureDayFileLocked(now); err != nil {
		return err
	}

	entry := Entry{Timestamp: now, EventType: eventType, Content: content, Metadata: metadata}
	evt := j.log.Log().Time("timestamp", entry.Timestamp.UTC()).Str("event_type", entry.EventType).Str("content", entry.Content)
	if len(metadata) > 0 {
		evt = evt.Interface("metadata", metadata)
	}
	evt.Send()
	return nil
}

func (j *Journal) ensureDayFileLocked(now time.Time) error {
	day := now.UTC().Format("2006-01-02")
	if j.file != nil && j.day == day {
		return nil
	}
	if j.file != nil {
		j.file.Close()
	}

	path := filepath.Join(j.dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal file %s: %w", path, err)
	}
	j.file = f
	j.day = day
	j.log = zerolog.New(f)
	return nil
}

// Close closes the current day file, if any.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
