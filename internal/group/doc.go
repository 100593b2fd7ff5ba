// Package group implements the middle layer of sensord: a Group owns the
// workers of one group id, and a query aggregates one reading from each of
// them for a single AggregateRead.
//
// # Membership
//
// EnsureWorker is idempotent by worker id. The first reference spawns the
// worker as a child of the group and watches it; later references return
// the same handle. When a worker stops, the watch delivers
// WorkerTerminated and the id disappears from the membership, unless the id
// has already been taken by a new worker.
//
// # Aggregate reads
//
// The group copies its membership and spawns a query with the copy. The
// query owns the copy; later membership changes do not affect it.
//
//	 group            query                      worker-1   worker-2
//	   │── spawn ────▶ │                             │          │
//	   │               │── watch + Read ────────────▶│          │
//	   │               │── watch + Read ───────────────────────▶│
//	   │               │◀───────────────── Respond ──│          │
//	   │               │◀──────────────── terminated ───────────│
//	   │               │
//	caller ◀── AggregateResponse{worker-1: value, worker-2: unavailable}
//
// Each target is resolved by the first of three events: its reply (Value
// or Absent), its termination (Unavailable), or the deadline (TimedOut).
// Later events for an already resolved target are ignored. The response
// always holds one outcome per target. An empty membership is answered
// immediately.
//
// # Misrouted requests
//
// A request for another group id is answered with protocol.ErrWrongGroup
// and logged at warn level.
package group
