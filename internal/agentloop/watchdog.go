package agentloop

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sentinel-agent/sentinel/internal/logging"
)

// watchdogSpec is the heartbeat staleness poll cadence.
const watchdogSpec = "@every 30s"

// staleAfter is how long a heartbeat can go unrefreshed before the
// watchdog considers the loop goroutine dead and restarts it. Kept a
// few multiples of the worst-case sleep ceiling so a legitimately long
// sleep never trips a false restart.
const staleAfter = 3 * time.Hour

// Watchdog restarts a Loop's Run goroutine when its heartbeat goes
// stale while the agent is not paused. It restarts on staleness, not
// only on a provably dead goroutine, since a wedged-but-alive goroutine
// (e.g. blocked on a misbehaving provider call with no timeout) is the
// failure mode most worth guarding against.
type Watchdog struct {
	loop       *Loop
	heartbeats func(ctx context.Context) (time.Time, bool, error)
	cron       *cron.Cron

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewWatchdog builds a Watchdog over loop, reading heartbeat/paused state
// through heartbeats (typically a thin closure over *state.Persistor).
func NewWatchdog(loop *Loop, heartbeats func(ctx context.Context) (lastHeartbeat time.Time, paused bool, err error)) *Watchdog {
	return &Watchdog{
		loop:       loop,
		heartbeats: heartbeats,
		cron: cron.New(
			cron.WithLocation(time.Local),
			cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
	}
}

// Start registers the 30s poll and starts the underlying Loop goroutine.
func (w *Watchdog) Start(ctx context.Context) error {
	w.startLoop(ctx)
	_, err := w.cron.AddFunc(watchdogSpec, func() { w.checkAndRestart(ctx) })
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the poll and the Loop goroutine.
func (w *Watchdog) Stop() {
	stopCtx := w.cron.Stop()
	<-stopCtx.Done()

	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.loop.Stop()
}

func (w *Watchdog) startLoop(parent context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	runCtx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.running = true
	go func() {
		if err := w.loop.Run(runCtx); err != nil && runCtx.Err() == nil {
			logging.Logger().Error("agent loop exited unexpectedly", "err", err)
		}
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()
}

// checkAndRestart restarts the loop goroutine if it is not currently
// marked running, or if the persisted heartbeat is stale while the
// agent is not paused.
func (w *Watchdog) checkAndRestart(ctx context.Context) {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	if !running {
		logging.Logger().Warn("agent loop goroutine not running, restarting")
		w.restart(ctx)
		return
	}

	if w.heartbeats == nil {
		return
	}
	last, paused, err := w.heartbeats(ctx)
	if err != nil {
		logging.Logger().Warn("watchdog heartbeat check failed", "err", err)
		return
	}
	if paused {
		return
	}
	if time.Since(last) > staleAfter {
		logging.Logger().Error("agent loop heartbeat stale, restarting", "last_heartbeat", last)
		w.restart(ctx)
	}
}

func (w *Watchdog) restart(ctx context.Context) {
	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.startLoop(ctx)
}
