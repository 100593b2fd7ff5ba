// Package actor provides the message-delivery substrate sensord is built on:
// single-threaded units with unbounded mailboxes, an ownership tree,
// non-owning termination observation and one-shot timers.
//
// # Overview
//
// Every unit runs its Behavior on a dedicated goroutine and handles exactly
// one message at a time, so behaviors keep their state in plain fields and
// never lock. Units talk to each other only through Ref.Tell, which never
// blocks the sender.
//
//	              ┌──────────────┐
//	              │    System    │
//	              └──────┬───────┘
//	                     │ Spawn
//	              ┌──────▼───────┐
//	              │   registry   │
//	              └──────┬───────┘
//	                     │ SpawnChild
//	      ┌──────────────┼──────────────┐
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  group-a  │  │  group-b  │  │  group-c  │
//	└─────┬─────┘  └───────────┘  └───────────┘
//	      │ SpawnChild
//	┌─────▼─────┐
//	│ worker-1  │
//	└───────────┘
//
// # Mailboxes
//
// Mailboxes are Workiva queues. They are unbounded, so Tell never waits on a
// slow receiver, and they preserve the order of messages sent by one sender
// to one receiver. Nothing orders messages across different receivers.
//
// # Ownership and termination
//
// A unit stops when its Behavior returns Stop, when Ref.Stop is called, or
// when its handler panics. Stopping a unit first stops and waits for all of
// its children, then runs PostStop, closes Done and finally notifies every
// watcher.
//
// Watching is non-owning. Context.Watch turns the termination of another
// unit into a message in the watcher's own mailbox. Watches held by a unit
// are cancelled when it stops, and its mailbox is disposed first, so a late
// notification can never run against a stopped unit.
//
// # Timers
//
// Context.After arms a one-shot timer on the System clock (a quartz.Clock)
// that delivers a message to the unit. Pending timers are stopped with the
// unit. Tests swap in quartz.NewMock to drive deadlines deterministically.
//
// # Talking to units from outside
//
// Ask bridges a blocking caller, such as an HTTP handler, to the protocol:
//
//	reply, err := actor.Ask(ctx, func(replyTo actor.Receiver[protocol.WorkerList]) {
//	    registry.Tell(protocol.ListWorkers{RequestID: 7, GroupID: "g", ReplyTo: replyTo})
//	})
//
// Inside the tree, Adapt wraps replies of another protocol into the unit's
// own message type, which lets each request carry its own tag.
package actor
