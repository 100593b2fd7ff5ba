// Package protocol defines every message exchanged between the registry,
// its groups, their workers and the per-request aggregators, together with
// the Outcome type aggregate reads report per worker.
//
// # Message flow
//
//	caller ──EnsureWorker──▶ registry ──▶ group ──(create)──▶ worker
//	caller ◀──Registered───────────────── group
//
//	caller ──AggregateRead─▶ registry ──▶ group ──(spawn)──▶ query
//	                                               query ──Read──▶ worker(s)
//	                                               query ◀─Respond─ worker(s)
//	caller ◀──AggregateResponse──────────────────── query
//
// Every request carries its own ReplyTo receiver. Nothing in the protocol
// is synchronous: a reply is just another message.
//
// # Failure handling
//
// Per-worker failures never fail a request. A worker that stops before
// replying is reported as Unavailable, a worker that is too slow as
// TimedOut, and AggregateResponse always carries one Outcome per worker
// that was a member when the request reached its group.
//
// Requests addressed to an unknown group degrade to empty results.
// Requests delivered to the wrong group are answered with ErrWrongGroup
// rather than dropped, so a caller never waits for a reply that will not
// come.
//
// # Wire format
//
// Outcome encodes to JSON as
//
//	{"status":"value","value":21.5}
//	{"status":"absent"}
//	{"status":"unavailable"}
//	{"status":"timed_out"}
package protocol
