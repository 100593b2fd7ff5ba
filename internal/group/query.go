package group

import (
	"time"

	"github.com/go-kit/log/level"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/metrics"
	"github.com/dreamware/sensord/internal/protocol"
)

// queryEvent is the single event type a query consumes. Replies,
// termination notices and the deadline all arrive through the query's
// mailbox, so each target is resolved by exactly one event.
type queryEvent interface {
	queryEvent()
}

type readingReply struct {
	value    *float64
	workerID string
}

type targetTerminated struct {
	workerID string
}

type collectionTimeout struct{}

func (readingReply) queryEvent()      {}
func (targetTerminated) queryEvent()  {}
func (collectionTimeout) queryEvent() {}

// query is the per-request scatter-gather aggregator spawned by a group
// for every AggregateRead.
//
// State machine:
//
//	            ┌────────────── reply / terminated (pending left) ─┐
//	            ▼                                                  │
//	spawn ──▶ Collecting ──────────────────────────────────────────┘
//	            │
//	            ├── reply / terminated (pending empty) ──▶ Completed
//	            └── deadline ───────────────────────────▶ Completed
//
// Invariant: pending and the keys of collected partition the keys of
// targets at all times, and an id moves from pending to collected once.
type query struct {
	started   time.Time
	replyTo   actor.Receiver[protocol.AggregateResponse]
	targets   map[string]protocol.WorkerRef
	pending   map[string]struct{}
	collected map[string]protocol.Outcome
	metrics   *metrics.Metrics
	requestID int64
	timeout   time.Duration
	completed bool
}

// newQuery takes ownership of targets, which must not be modified
// afterwards.
func newQuery(
	targets map[string]protocol.WorkerRef,
	requestID int64,
	replyTo actor.Receiver[protocol.AggregateResponse],
	timeout time.Duration,
	m *metrics.Metrics,
) actor.Behavior[queryEvent] {
	pending := make(map[string]struct{}, len(targets))
	for id := range targets {
		pending[id] = struct{}{}
	}
	return &query{
		targets:   targets,
		requestID: requestID,
		replyTo:   replyTo,
		timeout:   timeout,
		pending:   pending,
		collected: make(map[string]protocol.Outcome, len(targets)),
		metrics:   m,
	}
}

// PreStart fans the read out. An empty snapshot completes right away.
func (q *query) PreStart(ctx *actor.Context[queryEvent]) actor.Directive {
	q.started = ctx.Clock().Now()
	if len(q.targets) == 0 {
		q.respond(ctx)
		return actor.Stop
	}

	ctx.After(q.timeout, collectionTimeout{})

	self := ctx.Self()
	for id, ref := range q.targets {
		workerID := id
		ctx.Watch(ref, targetTerminated{workerID: workerID})
		ref.Tell(protocol.Read{
			RequestID: 0,
			ReplyTo: actor.Adapt[protocol.Respond, queryEvent](self, func(r protocol.Respond) queryEvent {
				return readingReply{workerID: workerID, value: r.Value}
			}),
		})
	}
	return actor.Continue
}

func (q *query) Receive(ctx *actor.Context[queryEvent], ev queryEvent) actor.Directive {
	switch e := ev.(type) {
	case readingReply:
		q.resolve(e.workerID, protocol.OutcomeFromReading(e.value))
	case targetTerminated:
		q.resolve(e.workerID, protocol.Unavailable)
	case collectionTimeout:
		for id := range q.pending {
			q.resolve(id, protocol.TimedOut)
		}
	}

	if len(q.pending) > 0 {
		return actor.Continue
	}
	q.respond(ctx)
	return actor.Stop
}

// PostStop answers with Unavailable for whatever is still pending when the
// query is stopped from outside, e.g. because its group stopped.
func (q *query) PostStop(ctx *actor.Context[queryEvent]) {
	if q.completed {
		return
	}
	for id := range q.pending {
		q.resolve(id, protocol.Unavailable)
	}
	q.respond(ctx)
}

// resolve records o for workerID unless an earlier event already did.
func (q *query) resolve(workerID string, o protocol.Outcome) {
	if _, ok := q.pending[workerID]; !ok {
		return
	}
	delete(q.pending, workerID)
	q.collected[workerID] = o
}

func (q *query) respond(ctx *actor.Context[queryEvent]) {
	q.completed = true
	elapsed := ctx.Clock().Since(q.started)
	q.metrics.QueryCompleted(elapsed.Seconds(), q.collected)
	level.Debug(ctx.Logger()).Log("msg", "aggregate read completed", "request_id", q.requestID, "targets", len(q.targets), "took", elapsed)
	q.replyTo.Tell(protocol.AggregateResponse{
		RequestID: q.requestID,
		Outcomes:  q.collected,
	})
}
