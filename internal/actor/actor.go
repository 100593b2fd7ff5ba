package actor

import (
	"fmt"
	"sync"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	// mailboxHint is the initial capacity of every mailbox. Mailboxes grow
	// without bound, so this only sizes the first allocation.
	mailboxHint = 16

	// mailboxBatch is the largest number of envelopes a unit drains from
	// its mailbox per wakeup.
	mailboxBatch = 32
)

// Directive tells the runtime what to do after a message has been handled.
type Directive int

const (
	// Continue keeps the unit running and waiting for the next message.
	Continue Directive = iota
	// Stop terminates the unit. Messages still queued are dropped.
	Stop
)

// Behavior is the message handler of a unit. Receive is never called
// concurrently for the same unit, so a Behavior can keep plain fields
// without locking.
type Behavior[M any] interface {
	Receive(ctx *Context[M], msg M) Directive
}

// PreStarter is implemented by behaviors that need to act before the first
// message is delivered. Returning Stop terminates the unit immediately.
type PreStarter[M any] interface {
	PreStart(ctx *Context[M]) Directive
}

// PostStopper is implemented by behaviors that want to observe their own
// termination. PostStop runs after all children have stopped.
type PostStopper[M any] interface {
	PostStop(ctx *Context[M])
}

// Receiver is anything a message of type M can be delivered to. Both *Ref
// and the reply adapters returned by Adapt and Ask implement it.
type Receiver[M any] interface {
	Tell(msg M) bool
}

// ReplyFunc adapts a plain function to Receiver.
type ReplyFunc[M any] func(msg M)

// Tell calls f with msg.
func (f ReplyFunc[M]) Tell(msg M) bool {
	f(msg)
	return true
}

// Watchable is a unit whose termination can be observed.
type Watchable interface {
	Watch(fn func()) (cancel func())
	Path() string
}

type stoppable interface {
	Stop()
	Done() <-chan struct{}
}

type envelope[M any] struct {
	msg  M
	stop bool
}

// Ref is the handle to a running unit. It is safe for concurrent use and
// remains valid after the unit stops: Tell then reports false and the
// message is discarded.
type Ref[M any] struct {
	path    string
	mailbox *queue.Queue
	done    chan struct{}

	mu        sync.Mutex
	stopped   bool
	watchers  map[uint64]func()
	nextWatch uint64
}

func newRef[M any](path string) *Ref[M] {
	return &Ref[M]{
		path:     path,
		mailbox:  queue.New(mailboxHint),
		done:     make(chan struct{}),
		watchers: make(map[uint64]func()),
	}
}

// Tell enqueues msg without blocking. It returns false when the unit has
// already stopped.
func (r *Ref[M]) Tell(msg M) bool {
	return r.mailbox.Put(envelope[M]{msg: msg}) == nil
}

// Stop asks the unit to terminate once the messages queued before the
// request have been handled. Stopping a stopped unit is a no-op.
func (r *Ref[M]) Stop() {
	_ = r.mailbox.Put(envelope[M]{stop: true})
}

// Done is closed once the unit and all of its children have stopped.
func (r *Ref[M]) Done() <-chan struct{} {
	return r.done
}

// Terminated reports whether the unit has stopped.
func (r *Ref[M]) Terminated() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Path returns the hierarchical name of the unit, e.g. "/sensord/registry/group-a".
func (r *Ref[M]) Path() string {
	return r.path
}

func (r *Ref[M]) String() string {
	return r.path
}

// Watch registers fn to be called once when the unit stops. Watching a unit
// that has already stopped calls fn right away. The returned cancel func
// removes the registration; it is safe to call more than once.
//
// A watch does not keep the unit alive and carries no ownership.
func (r *Ref[M]) Watch(fn func()) (cancel func()) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		fn()
		return func() {}
	}
	id := r.nextWatch
	r.nextWatch++
	r.watchers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *Ref[M]) notifyWatchers() {
	r.mu.Lock()
	r.stopped = true
	watchers := r.watchers
	r.watchers = nil
	r.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
}

// Spawn starts a root unit owned by sys.
func Spawn[M any](sys *System, name string, behavior Behavior[M]) *Ref[M] {
	ref := start(sys, "/"+sys.name+"/"+name, behavior)
	sys.addRoot(ref)
	return ref
}

// SpawnChild starts a unit owned by the unit behind parent. The child is
// stopped, and waited for, before the parent finishes stopping.
func SpawnChild[M, P any](parent *Context[P], name string, behavior Behavior[M]) *Ref[M] {
	ref := start(parent.sys, parent.self.path+"/"+name, behavior)
	parent.addChild(ref)
	ref.Watch(func() { parent.removeChild(ref) })
	return ref
}

func start[M any](sys *System, path string, behavior Behavior[M]) *Ref[M] {
	ref := newRef[M](path)
	ctx := &Context[M]{
		self:     ref,
		sys:      sys,
		logger:   log.With(sys.logger, "actor", path),
		children: make(map[stoppable]struct{}),
		watches:  make(map[Watchable]func()),
		timers:   make(map[uint64]func() bool),
	}
	p := &process[M]{ctx: ctx, behavior: behavior}

	sys.wg.Add(1)
	go p.run()
	return ref
}

type process[M any] struct {
	ctx      *Context[M]
	behavior Behavior[M]
}

func (p *process[M]) run() {
	defer p.ctx.sys.wg.Done()
	defer p.finish()

	if s, ok := p.behavior.(PreStarter[M]); ok {
		if p.invoke(func() Directive { return s.PreStart(p.ctx) }) == Stop {
			return
		}
	}

	for {
		items, err := p.ctx.self.mailbox.Get(mailboxBatch)
		if err != nil {
			return
		}
		for _, item := range items {
			env := item.(envelope[M])
			if env.stop {
				return
			}
			if p.invoke(func() Directive { return p.behavior.Receive(p.ctx, env.msg) }) == Stop {
				return
			}
		}
	}
}

// invoke runs a handler and turns a panic into Stop so that observers of
// the unit learn about the failure through the usual termination path.
func (p *process[M]) invoke(fn func() Directive) (d Directive) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(p.ctx.logger).Log("msg", "handler panicked, stopping", "panic", fmt.Sprint(r))
			d = Stop
		}
	}()
	return fn()
}

func (p *process[M]) finish() {
	ctx := p.ctx
	if dropped := ctx.self.mailbox.Dispose(); len(dropped) > 0 {
		level.Debug(ctx.logger).Log("msg", "discarding undelivered messages", "count", len(dropped))
	}
	ctx.stopTimers()
	ctx.cancelWatches()

	children := ctx.snapshotChildren()
	for _, c := range children {
		c.Stop()
	}
	for _, c := range children {
		<-c.Done()
		ctx.removeChild(c)
	}

	if s, ok := p.behavior.(PostStopper[M]); ok {
		p.invoke(func() Directive {
			s.PostStop(ctx)
			return Stop
		})
	}

	close(ctx.self.done)
	ctx.self.notifyWatchers()
}
