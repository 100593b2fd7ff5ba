// Package registry implements the top layer of sensord's unit tree.
// See doc.go for complete package documentation.
package registry

import (
	"fmt"

	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/group"
	"github.com/dreamware/sensord/internal/protocol"
)

// Registry tracks the live groups of the system, creating them on first
// reference and forgetting them when they stop.
//
// The registry is the only root unit of a sensord process:
//
//	┌─────────────────────────────────────┐
//	│              Registry               │
//	├─────────────────────────────────────┤
//	│  groups: map[groupID]→GroupRef      │
//	│  opts:   shared group.Options       │
//	├─────────────────────────────────────┤
//	│  EnsureWorker   → lookup or create  │
//	│  ListWorkers    → forward or empty  │
//	│  AggregateRead  → forward or empty  │
//	│  GroupTerminated→ remove            │
//	└─────────────────────────────────────┘
//
// Concurrency Model:
//   - Runs as a single unit, one message at a time
//   - The groups map is never shared, so it needs no lock
//   - Forwarding never waits for the group to answer
//
// Ownership:
// Every group is a child of the registry. Stopping the registry stops all
// groups, and through them all workers and in-flight queries.
type Registry struct {
	// groups maps group ids to the handles of their live groups.
	// A group is removed when its termination notice arrives.
	groups map[string]protocol.GroupRef

	// opts is handed unchanged to every group created.
	opts group.Options
}

// New returns the behavior of an empty registry.
//
// Parameters:
//   - opts: Options passed to every group the registry creates
//
// Returns:
//   - Behavior ready to be spawned with actor.Spawn
//
// Example:
//
//	sys := actor.NewSystem("sensord")
//	reg := actor.Spawn(sys, "registry", registry.New(group.Options{}))
func New(opts group.Options) actor.Behavior[protocol.RegistryCommand] {
	return &Registry{
		groups: make(map[string]protocol.GroupRef),
		opts:   opts,
	}
}

// Start spawns a registry as a root unit of sys and returns its handle.
//
// Example:
//
//	reg := registry.Start(sys, group.Options{QueryTimeout: 3 * time.Second})
//	defer sys.Shutdown(ctx)
func Start(sys *actor.System, opts group.Options) protocol.RegistryRef {
	return actor.Spawn(sys, "registry", New(opts))
}

// PreStart logs the registry start.
func (r *Registry) PreStart(ctx *actor.Context[protocol.RegistryCommand]) actor.Directive {
	level.Info(ctx.Logger()).Log("msg", "registry started")
	return actor.Continue
}

// Receive routes one protocol.RegistryCommand.
//
// Routing rules:
//   - EnsureWorker: lookup or create the group, then forward
//   - ListWorkers, AggregateRead: forward, or reply empty for unknown or
//     stopped groups
//   - PassivateWorker: forward, or drop for unknown groups
//   - StopGroup: forget the group and stop it
//   - ListGroups: reply with the sorted group ids
//   - GroupTerminated: forget the group
func (r *Registry) Receive(ctx *actor.Context[protocol.RegistryCommand], msg protocol.RegistryCommand) actor.Directive {
	switch m := msg.(type) {
	case protocol.EnsureWorker:
		r.ensureGroup(ctx, m.GroupID).Tell(m)

	case protocol.ListWorkers:
		if ref, ok := r.groups[m.GroupID]; ok && ref.Tell(m) {
			return actor.Continue
		}
		m.ReplyTo.Tell(protocol.WorkerList{RequestID: m.RequestID, IDs: []string{}})

	case protocol.AggregateRead:
		if ref, ok := r.groups[m.GroupID]; ok && ref.Tell(m) {
			return actor.Continue
		}
		m.ReplyTo.Tell(protocol.AggregateResponse{RequestID: m.RequestID, Outcomes: map[string]protocol.Outcome{}})

	case protocol.PassivateWorker:
		if ref, ok := r.groups[m.GroupID]; ok {
			ref.Tell(m)
		}

	case protocol.StopGroup:
		if ref, ok := r.groups[m.GroupID]; ok {
			level.Info(ctx.Logger()).Log("msg", "stopping group", "group", m.GroupID)
			// Forget the group now: anything sent after the stop would be
			// discarded with its mailbox.
			ctx.Unwatch(ref)
			delete(r.groups, m.GroupID)
			ref.Stop()
		}

	case protocol.ListGroups:
		m.ReplyTo.Tell(protocol.GroupList{RequestID: m.RequestID, IDs: r.groupIDs()})

	case protocol.GroupTerminated:
		r.removeGroup(ctx, m)

	default:
		level.Warn(ctx.Logger()).Log("msg", "ignoring unroutable message", "type", fmt.Sprintf("%T", msg))
	}
	return actor.Continue
}

// PostStop logs the registry stop. All groups have stopped by then.
func (r *Registry) PostStop(ctx *actor.Context[protocol.RegistryCommand]) {
	level.Info(ctx.Logger()).Log("msg", "registry stopped")
}

// ensureGroup returns the live group for groupID, creating and watching a
// new one if needed.
//
// A group that has terminated but whose notice is still queued is
// replaced right away; the stale notice is ignored by removeGroup.
func (r *Registry) ensureGroup(ctx *actor.Context[protocol.RegistryCommand], groupID string) protocol.GroupRef {
	if ref, ok := r.groups[groupID]; ok && !ref.Terminated() {
		return ref
	}

	level.Info(ctx.Logger()).Log("msg", "creating group", "group", groupID)
	ref := actor.SpawnChild(ctx, "group-"+groupID, group.New(groupID, r.opts))
	ctx.Watch(ref, protocol.GroupTerminated{Group: ref, GroupID: groupID})
	r.groups[groupID] = ref
	return ref
}

// removeGroup forgets a stopped group.
//
// The notice is matched on the handle as well as the id so that the notice
// of an old group cannot remove a newer group with the same id.
func (r *Registry) removeGroup(ctx *actor.Context[protocol.RegistryCommand], m protocol.GroupTerminated) {
	ctx.Unwatch(m.Group)
	if ref, ok := r.groups[m.GroupID]; ok && ref == m.Group {
		delete(r.groups, m.GroupID)
		level.Info(ctx.Logger()).Log("msg", "group removed", "group", m.GroupID)
	}
}

// groupIDs returns the ids of all known groups in ascending order.
func (r *Registry) groupIDs() []string {
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
