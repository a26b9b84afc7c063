package agentloop

import (
	"sync"

	"github.com/sentinel-agent/sentinel/internal/budget"
)

// Status is the dashboard-facing lifecycle state broadcast on every
// state transition.
type Status string

const (
	StatusPaused   Status = "paused"
	StatusPlanning Status = "planning"
	StatusIdle     Status = "idle"
	StatusError    Status = "error"
)

// Broadcast is one fan-out event. Not every field is populated for every
// Status; e.g. NextWakeSeconds/Budget/Model/Provider only accompany
// StatusIdle.
type Broadcast struct {
	Status          Status
	Message         string
	Iteration       int
	NextWakeSeconds float64
	Budget          budget.Status
	Model           string
	Provider        string
}

// Observer receives best-effort state broadcasts. Implementations must
// not block the loop; the loop itself never blocks waiting on one, and
// a panicking observer is swallowed.
type Observer interface {
	OnBroadcast(Broadcast)
}

// observerSet is a read-mostly fan-out list guarded by a mutex, matching
// the "subscriber set guarded by a read-mostly lock" design note.
type observerSet struct {
	mu        sync.RWMutex
	observers []Observer
}

func newObserverSet() *observerSet {
	return &observerSet{}
}

func (s *observerSet) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *observerSet) Broadcast(b Broadcast) {
	s.mu.RLock()
	observers := s.observers
	s.mu.RUnlock()
	for _, o := range observers {
		safeNotify(o, b)
	}
}

func safeNotify(o Observer, b Broadcast) {
	defer func() { _ = recover() }()
	o.OnBroadcast(b)
}
