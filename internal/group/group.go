package group

import (
	"fmt"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/metrics"
	"github.com/dreamware/sensord/internal/protocol"
	"github.com/dreamware/sensord/internal/worker"
)

const (
	// DefaultQueryTimeout applies to aggregate reads that ask for no timeout.
	DefaultQueryTimeout = 3 * time.Second
	// DefaultMaxQueryTimeout caps the timeout an aggregate read may ask for.
	DefaultMaxQueryTimeout = time.Minute
)

// Tracker is told about every worker a group creates. The idle monitor
// implements it.
type Tracker interface {
	Track(groupID, workerID string, ref protocol.WorkerRef)
}

// Options are shared by every group of a registry.
type Options struct {
	Metrics         *metrics.Metrics
	Tracker         Tracker
	QueryTimeout    time.Duration
	MaxQueryTimeout time.Duration
}

// Group owns the workers of one group id. Workers are created on first
// reference and forgotten when they stop.
type Group struct {
	members map[string]protocol.WorkerRef
	opts    Options
	groupID string
}

// New returns the behavior of an empty group.
func New(groupID string, opts Options) actor.Behavior[protocol.GroupCommand] {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.MaxQueryTimeout <= 0 {
		opts.MaxQueryTimeout = DefaultMaxQueryTimeout
	}
	return &Group{
		groupID: groupID,
		opts:    opts,
		members: make(map[string]protocol.WorkerRef),
	}
}

// PreStart counts the group as active.
func (g *Group) PreStart(ctx *actor.Context[protocol.GroupCommand]) actor.Directive {
	g.opts.Metrics.GroupStarted()
	level.Info(ctx.Logger()).Log("msg", "group started", "group", g.groupID)
	return actor.Continue
}

// Receive handles one protocol.GroupCommand. Requests addressed to another
// group are rejected with protocol.ErrWrongGroup.
func (g *Group) Receive(ctx *actor.Context[protocol.GroupCommand], msg protocol.GroupCommand) actor.Directive {
	switch m := msg.(type) {
	case protocol.EnsureWorker:
		g.onEnsureWorker(ctx, m)
	case protocol.ListWorkers:
		g.onListWorkers(ctx, m)
	case protocol.AggregateRead:
		g.onAggregateRead(ctx, m)
	case protocol.PassivateWorker:
		g.onPassivateWorker(ctx, m)
	case protocol.WorkerTerminated:
		g.onWorkerTerminated(ctx, m)
	default:
		level.Warn(ctx.Logger()).Log("msg", "ignoring unroutable message", "type", fmt.Sprintf("%T", msg))
	}
	return actor.Continue
}

// PostStop runs after every worker and query of the group has stopped.
func (g *Group) PostStop(ctx *actor.Context[protocol.GroupCommand]) {
	g.opts.Metrics.GroupStopped()
	level.Info(ctx.Logger()).Log("msg", "group stopped", "group", g.groupID)
}

func (g *Group) onEnsureWorker(ctx *actor.Context[protocol.GroupCommand], m protocol.EnsureWorker) {
	if m.GroupID != g.groupID {
		m.ReplyTo.Tell(protocol.Registered{Err: g.rejectMisrouted(ctx, "EnsureWorker", m.GroupID)})
		return
	}

	if ref, ok := g.members[m.WorkerID]; ok && !ref.Terminated() {
		m.ReplyTo.Tell(protocol.Registered{Worker: ref})
		return
	}

	level.Info(ctx.Logger()).Log("msg", "creating worker", "worker", m.WorkerID)
	ref := actor.SpawnChild(ctx, "worker-"+m.WorkerID, worker.New(g.groupID, m.WorkerID, g.opts.Metrics))
	ctx.Watch(ref, protocol.WorkerTerminated{Worker: ref, WorkerID: m.WorkerID})
	g.members[m.WorkerID] = ref
	if g.opts.Tracker != nil {
		g.opts.Tracker.Track(g.groupID, m.WorkerID, ref)
	}
	m.ReplyTo.Tell(protocol.Registered{Worker: ref})
}

func (g *Group) onListWorkers(ctx *actor.Context[protocol.GroupCommand], m protocol.ListWorkers) {
	if m.GroupID != g.groupID {
		m.ReplyTo.Tell(protocol.WorkerList{
			RequestID: m.RequestID,
			Err:       g.rejectMisrouted(ctx, "ListWorkers", m.GroupID),
		})
		return
	}
	m.ReplyTo.Tell(protocol.WorkerList{RequestID: m.RequestID, IDs: g.memberIDs()})
}

// onAggregateRead hands an immutable copy of the membership to a new
// query. The group does not track the query afterwards.
func (g *Group) onAggregateRead(ctx *actor.Context[protocol.GroupCommand], m protocol.AggregateRead) {
	if m.GroupID != g.groupID {
		m.ReplyTo.Tell(protocol.AggregateResponse{
			RequestID: m.RequestID,
			Outcomes:  map[string]protocol.Outcome{},
			Err:       g.rejectMisrouted(ctx, "AggregateRead", m.GroupID),
		})
		return
	}

	snapshot := make(map[string]protocol.WorkerRef, len(g.members))
	for id, ref := range g.members {
		snapshot[id] = ref
	}
	timeout := g.queryTimeout(m.Timeout)
	actor.SpawnChild(ctx, "query-"+uuid.NewString(), newQuery(snapshot, m.RequestID, m.ReplyTo, timeout, g.opts.Metrics))
}

func (g *Group) onPassivateWorker(ctx *actor.Context[protocol.GroupCommand], m protocol.PassivateWorker) {
	if m.GroupID != g.groupID {
		_ = g.rejectMisrouted(ctx, "PassivateWorker", m.GroupID)
		return
	}
	if ref, ok := g.members[m.WorkerID]; ok {
		ref.Tell(protocol.Passivate{})
	}
}

// onWorkerTerminated drops the member only if it is still the stopped
// handle; a worker recreated under the same id stays.
func (g *Group) onWorkerTerminated(ctx *actor.Context[protocol.GroupCommand], m protocol.WorkerTerminated) {
	ctx.Unwatch(m.Worker)
	if ref, ok := g.members[m.WorkerID]; ok && ref == m.Worker {
		delete(g.members, m.WorkerID)
		level.Info(ctx.Logger()).Log("msg", "worker removed", "worker", m.WorkerID)
	}
}

func (g *Group) rejectMisrouted(ctx *actor.Context[protocol.GroupCommand], op, requested string) error {
	level.Warn(ctx.Logger()).Log("msg", "rejecting request for another group", "op", op, "requested", requested, "group", g.groupID)
	return errors.Wrapf(protocol.ErrWrongGroup, "group %s cannot serve %s for group %s", g.groupID, op, requested)
}

func (g *Group) queryTimeout(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return g.opts.QueryTimeout
	case requested > g.opts.MaxQueryTimeout:
		return g.opts.MaxQueryTimeout
	default:
		return requested
	}
}

func (g *Group) memberIDs() []string {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
