package actor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// funcBehavior lets a test describe a unit as a single function.
type funcBehavior[M any] func(ctx *Context[M], msg M) Directive

func (f funcBehavior[M]) Receive(ctx *Context[M], msg M) Directive {
	return f(ctx, msg)
}

// lifecycleBehavior records PreStart and PostStop calls.
type lifecycleBehavior struct {
	onPreStart func(ctx *Context[string]) Directive
	onReceive  func(ctx *Context[string], msg string) Directive
	onPostStop func(ctx *Context[string])
}

func (b *lifecycleBehavior) PreStart(ctx *Context[string]) Directive {
	if b.onPreStart == nil {
		return Continue
	}
	return b.onPreStart(ctx)
}

func (b *lifecycleBehavior) Receive(ctx *Context[string], msg string) Directive {
	if b.onReceive == nil {
		return Continue
	}
	return b.onReceive(ctx, msg)
}

func (b *lifecycleBehavior) PostStop(ctx *Context[string]) {
	if b.onPostStop != nil {
		b.onPostStop(ctx)
	}
}

func newTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	sys := NewSystem("test", opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, sys.Shutdown(ctx))
	})
	return sys
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

// TestTellDeliversInOrder verifies that messages from one sender are handled
// in the order they were sent.
func TestTellDeliversInOrder(t *testing.T) {
	sys := newTestSystem(t)

	got := make(chan int, 100)
	ref := Spawn[int](sys, "ordered", funcBehavior[int](func(_ *Context[int], msg int) Directive {
		got <- msg
		return Continue
	}))

	for i := 0; i < 100; i++ {
		require.True(t, ref.Tell(i))
	}
	for i := 0; i < 100; i++ {
		select {
		case v := <-got:
			assert.Equal(t, i, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("message %d not delivered", i)
		}
	}
}

// TestRefPath verifies the hierarchical naming of root and child units.
func TestRefPath(t *testing.T) {
	sys := newTestSystem(t)

	childPath := make(chan string, 1)
	parent := Spawn[string](sys, "parent", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			child := SpawnChild[int](ctx, "child", funcBehavior[int](func(*Context[int], int) Directive { return Continue }))
			childPath <- child.Path()
			return Continue
		},
	})

	assert.Equal(t, "/test/parent", parent.Path())
	assert.Equal(t, "/test/parent", parent.String())
	assert.Equal(t, "/test/parent/child", <-childPath)
}

// TestStopDirective verifies that returning Stop terminates the unit, runs
// PostStop and makes later Tells fail.
func TestStopDirective(t *testing.T) {
	sys := newTestSystem(t)

	postStopped := make(chan struct{})
	ref := Spawn[string](sys, "stopper", &lifecycleBehavior{
		onReceive: func(_ *Context[string], msg string) Directive {
			if msg == "stop" {
				return Stop
			}
			return Continue
		},
		onPostStop: func(*Context[string]) { close(postStopped) },
	})

	assert.False(t, ref.Terminated())
	ref.Tell("stop")
	waitClosed(t, postStopped)
	waitClosed(t, ref.Done())

	assert.True(t, ref.Terminated())
	assert.False(t, ref.Tell("hello"), "Tell to a stopped unit should report false")
}

// TestPreStartStop verifies that a unit whose PreStart returns Stop never
// receives a message.
func TestPreStartStop(t *testing.T) {
	sys := newTestSystem(t)

	received := make(chan string, 1)
	ref := Spawn[string](sys, "short-lived", &lifecycleBehavior{
		onPreStart: func(*Context[string]) Directive { return Stop },
		onReceive: func(_ *Context[string], msg string) Directive {
			received <- msg
			return Continue
		},
	})
	ref.Tell("ignored")

	waitClosed(t, ref.Done())
	assert.Empty(t, received)
}

// TestStopAfterQueuedMessages verifies that Stop is handled after the
// messages queued before it.
func TestStopAfterQueuedMessages(t *testing.T) {
	sys := newTestSystem(t)

	var mu sync.Mutex
	var seen []string
	release := make(chan struct{})
	ref := Spawn[string](sys, "drain", funcBehavior[string](func(_ *Context[string], msg string) Directive {
		<-release
		mu.Lock()
		seen = append(seen, msg)
		mu.Unlock()
		return Continue
	}))

	ref.Tell("a")
	ref.Tell("b")
	ref.Stop()
	close(release)
	waitClosed(t, ref.Done())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b"}, seen)
}

// TestPanicStopsUnit verifies that a panicking handler stops the unit and
// fires its watches instead of crashing the process.
func TestPanicStopsUnit(t *testing.T) {
	sys := newTestSystem(t)

	ref := Spawn[string](sys, "panicky", funcBehavior[string](func(*Context[string], string) Directive {
		panic("boom")
	}))

	watched := make(chan struct{})
	ref.Watch(func() { close(watched) })

	ref.Tell("trigger")
	waitClosed(t, watched)
	assert.True(t, ref.Terminated())
}

// TestChildrenStopBeforeParent verifies that a parent's PostStop only runs
// once all of its children have stopped.
func TestChildrenStopBeforeParent(t *testing.T) {
	sys := newTestSystem(t)

	children := make(chan *Ref[int], 2)
	childrenDoneAtPostStop := make(chan bool, 1)
	parent := Spawn[string](sys, "parent", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			for _, name := range []string{"c1", "c2"} {
				children <- SpawnChild[int](ctx, name, funcBehavior[int](func(*Context[int], int) Directive { return Continue }))
			}
			return Continue
		},
		onPostStop: func(ctx *Context[string]) {
			childrenDoneAtPostStop <- ctx.Children() == 0
		},
	})

	c1, c2 := <-children, <-children
	parent.Stop()
	waitClosed(t, parent.Done())

	assert.True(t, c1.Terminated())
	assert.True(t, c2.Terminated())
	assert.True(t, <-childrenDoneAtPostStop, "children should be gone when PostStop runs")
}

// TestStoppedChildIsForgotten verifies that a parent stops tracking a child
// that stopped on its own.
func TestStoppedChildIsForgotten(t *testing.T) {
	sys := newTestSystem(t)

	counts := make(chan int, 1)
	var child *Ref[int]
	spawned := make(chan struct{})
	parent := Spawn[string](sys, "parent", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			child = SpawnChild[int](ctx, "child", funcBehavior[int](func(*Context[int], int) Directive { return Stop }))
			close(spawned)
			return Continue
		},
		onReceive: func(ctx *Context[string], _ string) Directive {
			counts <- ctx.Children()
			return Continue
		},
	})

	<-spawned
	child.Tell(1)
	waitClosed(t, child.Done())

	require.Eventually(t, func() bool {
		parent.Tell("count")
		return <-counts == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// TestWatch verifies that a watch delivers the termination notice to the
// watcher, and that watching a stopped unit notifies right away.
func TestWatch(t *testing.T) {
	sys := newTestSystem(t)

	target := Spawn[int](sys, "target", funcBehavior[int](func(*Context[int], int) Directive { return Stop }))

	notices := make(chan string, 2)
	watcher := Spawn[string](sys, "watcher", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			ctx.Watch(target, "target stopped")
			return Continue
		},
		onReceive: func(_ *Context[string], msg string) Directive {
			notices <- msg
			return Continue
		},
	})

	target.Tell(1)
	select {
	case msg := <-notices:
		assert.Equal(t, "target stopped", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("termination notice not delivered")
	}

	called := make(chan struct{})
	target.Watch(func() { close(called) })
	waitClosed(t, called)

	watcher.Stop()
	waitClosed(t, watcher.Done())
}

// TestUnwatch verifies that a cancelled watch delivers nothing.
func TestUnwatch(t *testing.T) {
	sys := newTestSystem(t)

	target := Spawn[int](sys, "target", funcBehavior[int](func(*Context[int], int) Directive { return Stop }))

	notices := make(chan string, 1)
	unwatched := make(chan struct{})
	Spawn[string](sys, "watcher", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			ctx.Watch(target, "target stopped")
			ctx.Unwatch(target)
			close(unwatched)
			return Continue
		},
		onReceive: func(_ *Context[string], msg string) Directive {
			notices <- msg
			return Continue
		},
	})

	<-unwatched
	target.Tell(1)
	waitClosed(t, target.Done())

	assert.Never(t, func() bool { return len(notices) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

// TestAfter verifies that timers fire on the system clock.
func TestAfter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := quartz.NewMock(t)
	trap := clock.Trap().AfterFunc("actor", "after")
	defer trap.Close()

	sys := newTestSystem(t, WithClock(clock))

	fired := make(chan string, 1)
	Spawn[string](sys, "timer", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			ctx.After(time.Second, "tick")
			return Continue
		},
		onReceive: func(_ *Context[string], msg string) Directive {
			fired <- msg
			return Continue
		},
	})

	call, err := trap.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, call.Release(ctx))

	assert.Empty(t, fired)
	clock.Advance(time.Second).MustWait(ctx)

	select {
	case msg := <-fired:
		assert.Equal(t, "tick", msg)
	case <-ctx.Done():
		t.Fatal("timer did not fire")
	}
}

// TestAfterCancel verifies that a cancelled timer never delivers.
func TestAfterCancel(t *testing.T) {
	sys := newTestSystem(t)

	fired := make(chan string, 1)
	cancelled := make(chan bool, 1)
	Spawn[string](sys, "timer", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			cancel := ctx.After(50*time.Millisecond, "tick")
			cancelled <- cancel()
			return Continue
		},
		onReceive: func(_ *Context[string], msg string) Directive {
			fired <- msg
			return Continue
		},
	})

	assert.True(t, <-cancelled, "pending timer should report it was stopped")
	assert.Never(t, func() bool { return len(fired) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

// TestAsk verifies the request-reply bridge for callers outside the tree.
func TestAsk(t *testing.T) {
	sys := newTestSystem(t)

	type echo struct {
		replyTo Receiver[string]
		text    string
	}
	ref := Spawn[echo](sys, "echo", funcBehavior[echo](func(_ *Context[echo], msg echo) Directive {
		if msg.text != "silent" {
			msg.replyTo.Tell(msg.text)
		}
		return Continue
	}))

	t.Run("reply", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		got, err := Ask(ctx, func(replyTo Receiver[string]) {
			ref.Tell(echo{replyTo: replyTo, text: "hello"})
		})
		require.NoError(t, err)
		assert.Equal(t, "hello", got)
	})

	t.Run("timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := Ask(ctx, func(replyTo Receiver[string]) {
			ref.Tell(echo{replyTo: replyTo, text: "silent"})
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAskTimeout))
	})
}

// TestAdapt verifies that an adapter wraps replies into the target's own
// message type.
func TestAdapt(t *testing.T) {
	var got []string
	sink := ReplyFunc[string](func(msg string) { got = append(got, msg) })

	adapted := Adapt[int, string](sink, func(n int) string {
		if n%2 == 0 {
			return "even"
		}
		return "odd"
	})
	adapted.Tell(1)
	adapted.Tell(2)

	assert.Equal(t, []string{"odd", "even"}, got)
}

// TestShutdown verifies that Shutdown stops the whole tree and that no unit
// goroutine outlives it.
func TestShutdown(t *testing.T) {
	sys := NewSystem("shutdown")

	var leaves []*Ref[int]
	ready := make(chan struct{})
	root := Spawn[string](sys, "root", &lifecycleBehavior{
		onPreStart: func(ctx *Context[string]) Directive {
			for _, name := range []string{"a", "b", "c"} {
				leaves = append(leaves, SpawnChild[int](ctx, name, funcBehavior[int](func(*Context[int], int) Directive { return Continue })))
			}
			close(ready)
			return Continue
		},
	})
	<-ready

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	assert.True(t, root.Terminated())
	for _, leaf := range leaves {
		assert.True(t, leaf.Terminated())
	}
	goleak.VerifyNone(t)
}
