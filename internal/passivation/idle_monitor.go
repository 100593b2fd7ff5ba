// Package passivation stops workers that have been idle for too long.
// This file implements the monitor that periodically asks every tracked
// worker to check its own idleness.
package passivation

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sensord/internal/protocol"
)

// TrackedWorker is one worker known to the monitor.
type TrackedWorker struct {
	TrackedAt time.Time         // When the worker was first tracked
	Ref       protocol.WorkerRef // Handle the CheckIdle requests are sent to
	GroupID   string            // Group the worker belongs to
	WorkerID  string            // Worker id within the group
	cancel    func()            // Cancels the termination watch
}

// IdleMonitor sends CheckIdle to every tracked worker once per interval.
// The decision to stop is made by the worker itself, against its own last
// activity, so the monitor never reads worker state.
// Thread-safe: All methods are safe for concurrent access.
type IdleMonitor struct {
	workers  map[string]*TrackedWorker // Tracked workers keyed by "group/worker"
	clock    quartz.Clock              // Drives the sweep ticker
	logger   log.Logger                // Monitor logger
	interval time.Duration             // How often to sweep
	maxIdle  time.Duration             // Idle time after which a worker stops; 0 disables
	mu       sync.RWMutex              // Protects workers
}

// NewIdleMonitor creates a monitor that sweeps every interval and asks
// workers to stop after maxIdle without activity. A maxIdle of zero makes
// Run a no-op that only waits for its context.
//
// Example:
//
//	monitor := NewIdleMonitor(30*time.Second, 10*time.Minute, logger)
//	go monitor.Run(ctx)
func NewIdleMonitor(interval, maxIdle time.Duration, logger log.Logger) *IdleMonitor {
	return &IdleMonitor{
		workers:  make(map[string]*TrackedWorker),
		clock:    quartz.NewReal(),
		logger:   logger,
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// SetClock replaces the clock driving the sweep. Tests pass a quartz mock.
func (m *IdleMonitor) SetClock(clock quartz.Clock) {
	m.clock = clock
}

// Track starts monitoring a worker. The worker is forgotten automatically
// when it stops. Tracking the same ids again replaces the earlier entry.
func (m *IdleMonitor) Track(groupID, workerID string, ref protocol.WorkerRef) {
	key := trackingKey(groupID, workerID)
	entry := &TrackedWorker{
		GroupID:   groupID,
		WorkerID:  workerID,
		Ref:       ref,
		TrackedAt: m.clock.Now(),
	}

	m.mu.Lock()
	if old, ok := m.workers[key]; ok && old.cancel != nil {
		old.cancel()
	}
	m.workers[key] = entry
	m.mu.Unlock()

	// Watch outside the lock: it calls back right away for a stopped worker.
	cancel := ref.Watch(func() { m.untrack(key, ref) })

	m.mu.Lock()
	entry.cancel = cancel
	m.mu.Unlock()
}

// Run sweeps until ctx is canceled.
//
// Implementation:
//  1. Start a ticker on the monitor clock
//  2. On every tick, send CheckIdle to all tracked workers
//  3. Return when ctx is done
func (m *IdleMonitor) Run(ctx context.Context) error {
	if m.maxIdle <= 0 {
		level.Info(m.logger).Log("msg", "idle passivation disabled")
		<-ctx.Done()
		return nil
	}

	level.Info(m.logger).Log("msg", "idle monitor started", "interval", m.interval, "max_idle", m.maxIdle)
	err := m.clock.TickerFunc(ctx, m.interval, m.sweep, "passivation", "sweep").Wait()
	level.Info(m.logger).Log("msg", "idle monitor stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (m *IdleMonitor) sweep() error {
	m.mu.RLock()
	refs := make([]protocol.WorkerRef, 0, len(m.workers))
	for _, w := range m.workers {
		refs = append(refs, w.Ref)
	}
	m.mu.RUnlock()

	for _, ref := range refs {
		ref.Tell(protocol.CheckIdle{MaxIdle: m.maxIdle})
	}
	level.Debug(m.logger).Log("msg", "idle sweep", "workers", len(refs))
	return nil
}

func (m *IdleMonitor) untrack(key string, ref protocol.WorkerRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[key]; ok && w.Ref == ref {
		delete(m.workers, key)
	}
}

// IsTracked reports whether a worker is currently being monitored.
func (m *IdleMonitor) IsTracked(groupID, workerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.workers[trackingKey(groupID, workerID)]
	return ok
}

// Tracked returns a copy of all tracked workers, ordered by group and
// worker id.
func (m *IdleMonitor) Tracked() []TrackedWorker {
	m.mu.RLock()
	out := make([]TrackedWorker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, TrackedWorker{
			GroupID:   w.GroupID,
			WorkerID:  w.WorkerID,
			Ref:       w.Ref,
			TrackedAt: w.TrackedAt,
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b TrackedWorker) int {
		return cmp.Or(cmp.Compare(a.GroupID, b.GroupID), cmp.Compare(a.WorkerID, b.WorkerID))
	})
	return out
}

func trackingKey(groupID, workerID string) string {
	return groupID + "/" + workerID
}
