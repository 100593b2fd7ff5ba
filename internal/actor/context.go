package actor

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/go-kit/log"
)

// Context is handed to a Behavior on every call. Apart from the child
// bookkeeping it is only touched from the unit's own goroutine.
type Context[M any] struct {
	self   *Ref[M]
	sys    *System
	logger log.Logger

	watches map[Watchable]func()

	mu        sync.Mutex
	children  map[stoppable]struct{}
	timers    map[uint64]func() bool
	nextTimer uint64
}

// Self returns the handle of the unit being run.
func (c *Context[M]) Self() *Ref[M] {
	return c.self
}

// Logger returns a logger tagged with the unit path.
func (c *Context[M]) Logger() log.Logger {
	return c.logger
}

// Clock returns the clock of the owning System.
func (c *Context[M]) Clock() quartz.Clock {
	return c.sys.clock
}

// Watch delivers msg to this unit when target stops. A second Watch on the
// same target replaces the first. The watch is dropped automatically when
// this unit stops, so a notification never reaches a stopped unit.
func (c *Context[M]) Watch(target Watchable, msg M) {
	c.Unwatch(target)
	self := c.self
	c.watches[target] = target.Watch(func() { self.Tell(msg) })
}

// Unwatch removes a watch registered with Watch.
func (c *Context[M]) Unwatch(target Watchable) {
	if cancel, ok := c.watches[target]; ok {
		cancel()
		delete(c.watches, target)
	}
}

// After delivers msg to this unit once d has elapsed on the system clock.
// The timer is stopped when the unit stops. The returned func cancels the
// timer and reports whether it was still pending.
func (c *Context[M]) After(d time.Duration, msg M) (cancel func() bool) {
	self := c.self

	c.mu.Lock()
	id := c.nextTimer
	c.nextTimer++
	c.mu.Unlock()

	t := c.sys.clock.AfterFunc(d, func() {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
		self.Tell(msg)
	}, "actor", "after")

	cancel = func() bool {
		c.mu.Lock()
		delete(c.timers, id)
		c.mu.Unlock()
		return t.Stop()
	}

	c.mu.Lock()
	c.timers[id] = func() bool { return t.Stop() }
	c.mu.Unlock()
	return cancel
}

// Children returns the number of live children.
func (c *Context[M]) Children() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.children)
}

func (c *Context[M]) addChild(child stoppable) {
	c.mu.Lock()
	c.children[child] = struct{}{}
	c.mu.Unlock()
}

func (c *Context[M]) removeChild(child stoppable) {
	c.mu.Lock()
	delete(c.children, child)
	c.mu.Unlock()
}

func (c *Context[M]) snapshotChildren() []stoppable {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]stoppable, 0, len(c.children))
	for child := range c.children {
		out = append(out, child)
	}
	return out
}

func (c *Context[M]) stopTimers() {
	c.mu.Lock()
	timers := c.timers
	c.timers = make(map[uint64]func() bool)
	c.mu.Unlock()
	for _, stop := range timers {
		stop()
	}
}

func (c *Context[M]) cancelWatches() {
	for target, cancel := range c.watches {
		cancel()
		delete(c.watches, target)
	}
}
