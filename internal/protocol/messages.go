package protocol

import (
	"time"

	"github.com/pkg/errors"

	"github.com/dreamware/sensord/internal/actor"
)

// ErrWrongGroup is carried by replies to requests delivered to a group
// that is not responsible for the requested group id.
var ErrWrongGroup = errors.New("request addressed to a different group")

// WorkerCommand is the message set understood by a worker.
type WorkerCommand interface {
	workerCommand()
}

// GroupCommand is the message set understood by a group.
type GroupCommand interface {
	groupCommand()
}

// RegistryCommand is the message set understood by the registry.
type RegistryCommand interface {
	registryCommand()
}

// WorkerRef is the handle of a running worker.
type WorkerRef = *actor.Ref[WorkerCommand]

// GroupRef is the handle of a running group.
type GroupRef = *actor.Ref[GroupCommand]

// RegistryRef is the handle of the registry.
type RegistryRef = *actor.Ref[RegistryCommand]

// Read asks a worker for its current reading.
type Read struct {
	ReplyTo   actor.Receiver[Respond]
	RequestID int64
}

// Respond answers Read. Value is nil when no reading was recorded yet.
type Respond struct {
	Value     *float64
	WorkerID  string
	RequestID int64
}

// Record overwrites the reading of a worker. A nil Value clears it.
type Record struct {
	Value     *float64
	ReplyTo   actor.Receiver[Acknowledged]
	RequestID int64
}

// Acknowledged answers Record.
type Acknowledged struct {
	RequestID int64
}

// Passivate stops a worker. There is no reply; the owning group learns
// about it through its termination watch.
type Passivate struct{}

// CheckIdle makes a worker stop itself when it has handled no Read or
// Record for at least MaxIdle.
type CheckIdle struct {
	MaxIdle time.Duration
}

// GetStats asks a worker for its operation counters.
type GetStats struct {
	ReplyTo actor.Receiver[Stats]
}

// Stats answers GetStats.
type Stats struct {
	LastActive time.Time
	GroupID    string
	WorkerID   string
	Reads      uint64
	Records    uint64
}

// EnsureWorker looks up or creates the worker WorkerID in group GroupID.
type EnsureWorker struct {
	ReplyTo  actor.Receiver[Registered]
	GroupID  string
	WorkerID string
}

// Registered answers EnsureWorker. Worker is nil when Err is set.
type Registered struct {
	Worker WorkerRef
	Err    error
}

// ListWorkers asks for the ids of the current members of a group.
type ListWorkers struct {
	ReplyTo   actor.Receiver[WorkerList]
	GroupID   string
	RequestID int64
}

// WorkerList answers ListWorkers. IDs are sorted.
type WorkerList struct {
	Err       error
	IDs       []string
	RequestID int64
}

// AggregateRead asks every current member of a group for its reading and
// replies once with one Outcome per member, after at most Timeout.
type AggregateRead struct {
	ReplyTo   actor.Receiver[AggregateResponse]
	GroupID   string
	RequestID int64
	Timeout   time.Duration
}

// AggregateResponse answers AggregateRead. Outcomes holds exactly one entry
// per worker that was a member when the request reached the group.
type AggregateResponse struct {
	Err       error
	Outcomes  map[string]Outcome
	RequestID int64
}

// PassivateWorker stops a member of a group, if it exists.
type PassivateWorker struct {
	GroupID  string
	WorkerID string
}

// WorkerTerminated is delivered to a group when one of its workers stops.
type WorkerTerminated struct {
	Worker   WorkerRef
	WorkerID string
}

// StopGroup stops a group and, with it, all of its workers.
type StopGroup struct {
	GroupID string
}

// ListGroups asks the registry for the ids of all live groups.
type ListGroups struct {
	ReplyTo   actor.Receiver[GroupList]
	RequestID int64
}

// GroupList answers ListGroups. IDs are sorted.
type GroupList struct {
	IDs       []string
	RequestID int64
}

// GroupTerminated is delivered to the registry when one of its groups stops.
type GroupTerminated struct {
	Group   GroupRef
	GroupID string
}

func (Read) workerCommand()      {}
func (Record) workerCommand()    {}
func (Passivate) workerCommand() {}
func (CheckIdle) workerCommand() {}
func (GetStats) workerCommand()  {}

func (EnsureWorker) groupCommand()     {}
func (ListWorkers) groupCommand()      {}
func (AggregateRead) groupCommand()    {}
func (PassivateWorker) groupCommand()  {}
func (WorkerTerminated) groupCommand() {}

func (EnsureWorker) registryCommand()    {}
func (ListWorkers) registryCommand()     {}
func (AggregateRead) registryCommand()   {}
func (PassivateWorker) registryCommand() {}
func (StopGroup) registryCommand()       {}
func (ListGroups) registryCommand()      {}
func (GroupTerminated) registryCommand() {}
