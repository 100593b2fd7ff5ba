// Package registry implements the entry point of sensord's unit tree: the
// Registry, which owns one group per group id and routes every request to
// the right one.
//
// # Overview
//
// Callers never talk to groups directly. They send their requests to the
// registry, which looks up the group, creating it if the request is an
// EnsureWorker, and forwards the request unchanged. The reply travels from
// the group (or from a query spawned by it) straight back to the caller's
// ReplyTo; the registry is not on the return path.
//
// # Architecture
//
//	                ┌──────────────┐
//	 requests ─────▶│   Registry   │
//	                └──────┬───────┘
//	                       │ forward
//	       ┌───────────────┼───────────────┐
//	┌──────▼──────┐ ┌──────▼──────┐ ┌──────▼──────┐
//	│ group-floor1│ │ group-floor2│ │ group-roof  │
//	│             │ │             │ │             │
//	│ Workers:    │ │ Workers:    │ │ Workers:    │
//	│ [t1,t2,t3]  │ │ [t4]        │ │ []          │
//	└─────────────┘ └─────────────┘ └─────────────┘
//
// # Lifecycle
//
// Group creation: on the first EnsureWorker naming the group id. The
// registry watches every group it creates.
//
// Group removal: when the group stops, either through StopGroup or because
// the whole system is shutting down, the watch delivers GroupTerminated
// and the id is forgotten. A later EnsureWorker creates a fresh group.
//
// # Unknown groups
//
// ListWorkers and AggregateRead for a group id the registry does not know
// are answered directly with an empty result, carrying the caller's
// request id. They never create a group. PassivateWorker and StopGroup for
// unknown groups are no-ops.
//
// # Concurrency Model
//
// The registry is a single unit. Its group map is private to its goroutine
// and needs no locking. It never waits for a group: forwarding is a
// non-blocking Tell, so one slow group cannot hold up requests for others.
//
// No ordering is guaranteed between requests addressed to different
// groups. Requests from one sender to one group keep their order, because
// the registry forwards in arrival order and mailboxes are FIFO.
//
// # Usage Example
//
//	sys := actor.NewSystem("sensord", actor.WithLogger(logger))
//	reg := registry.Start(sys, group.Options{Metrics: metrics.New(prometheus.DefaultRegisterer)})
//
//	registered, err := actor.Ask(ctx, func(replyTo actor.Receiver[protocol.Registered]) {
//	    reg.Tell(protocol.EnsureWorker{GroupID: "floor1", WorkerID: "t1", ReplyTo: replyTo})
//	})
//
//	resp, err := actor.Ask(ctx, func(replyTo actor.Receiver[protocol.AggregateResponse]) {
//	    reg.Tell(protocol.AggregateRead{RequestID: 1, GroupID: "floor1", Timeout: time.Second, ReplyTo: replyTo})
//	})
//
// # Limitations
//
//   - All state is volatile; a restart starts with an empty registry
//   - A single process; groups are not distributed across machines
//   - No consistency across groups: aggregate reads cover one group each
//
// # See Also
//
//   - internal/group: group membership and aggregate reads
//   - internal/worker: the leaf units holding readings
//   - internal/passivation: stopping idle workers
package registry
