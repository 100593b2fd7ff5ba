package actor

import (
	"context"
	"sync"

	"github.com/coder/quartz"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// System owns the root units and the goroutines of every unit spawned
// beneath them.
type System struct {
	name   string
	logger log.Logger
	clock  quartz.Clock

	wg sync.WaitGroup

	mu    sync.Mutex
	roots map[stoppable]struct{}
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger units derive their loggers from.
func WithLogger(logger log.Logger) Option {
	return func(s *System) {
		s.logger = logger
	}
}

// WithClock replaces the wall clock used for unit timers. Tests pass a
// quartz mock here.
func WithClock(clock quartz.Clock) Option {
	return func(s *System) {
		s.clock = clock
	}
}

// NewSystem creates an empty System. Without options it logs nothing and
// uses the real clock.
func NewSystem(name string, opts ...Option) *System {
	s := &System{
		name:   name,
		logger: log.NewNopLogger(),
		clock:  quartz.NewReal(),
		roots:  make(map[stoppable]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the clock units use for timers.
func (s *System) Clock() quartz.Clock {
	return s.clock
}

// Logger returns the system logger.
func (s *System) Logger() log.Logger {
	return s.logger
}

// Shutdown stops every root unit, which in turn stops their children, and
// waits until every unit goroutine has returned or ctx ends.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	roots := make([]stoppable, 0, len(s.roots))
	for r := range s.roots {
		roots = append(roots, r)
	}
	s.mu.Unlock()

	level.Info(s.logger).Log("msg", "stopping actor system", "system", s.name, "roots", len(roots))
	for _, r := range roots {
		r.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "actor system %s did not stop in time", s.name)
	}
}

func (s *System) addRoot(ref stoppable) {
	s.mu.Lock()
	s.roots[ref] = struct{}{}
	s.mu.Unlock()

	if w, ok := ref.(Watchable); ok {
		w.Watch(func() {
			s.mu.Lock()
			delete(s.roots, ref)
			s.mu.Unlock()
		})
	}
}
