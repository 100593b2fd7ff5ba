package worker

import (
	"fmt"
	"time"

	"github.com/go-kit/log/level"

	"github.com/dreamware/sensord/internal/actor"
	"github.com/dreamware/sensord/internal/metrics"
	"github.com/dreamware/sensord/internal/protocol"
)

// Worker is the leaf unit of the registry. It holds the last reading
// recorded for one (group, worker) pair and nothing else.
type Worker struct {
	lastActive  time.Time
	lastReading *float64
	metrics     *metrics.Metrics
	groupID     string
	workerID    string
	stats       OperationStats
}

// OperationStats counts the requests a worker has handled.
type OperationStats struct {
	Reads   uint64 // Number of Read requests answered
	Records uint64 // Number of Record requests applied
}

// New returns the behavior of a worker with no reading.
func New(groupID, workerID string, m *metrics.Metrics) actor.Behavior[protocol.WorkerCommand] {
	return &Worker{
		groupID:  groupID,
		workerID: workerID,
		metrics:  m,
	}
}

// PreStart stamps the worker as active so a fresh worker is not passivated
// before it has seen its first request.
func (w *Worker) PreStart(ctx *actor.Context[protocol.WorkerCommand]) actor.Directive {
	w.lastActive = ctx.Clock().Now()
	w.metrics.WorkerStarted()
	level.Info(ctx.Logger()).Log("msg", "worker started", "group", w.groupID, "worker", w.workerID)
	return actor.Continue
}

// Receive handles one protocol.WorkerCommand.
func (w *Worker) Receive(ctx *actor.Context[protocol.WorkerCommand], msg protocol.WorkerCommand) actor.Directive {
	switch m := msg.(type) {
	case protocol.Read:
		w.stats.Reads++
		w.lastActive = ctx.Clock().Now()
		if m.ReplyTo == nil {
			break
		}
		m.ReplyTo.Tell(protocol.Respond{
			RequestID: m.RequestID,
			WorkerID:  w.workerID,
			Value:     copyReading(w.lastReading),
		})

	case protocol.Record:
		w.stats.Records++
		w.lastActive = ctx.Clock().Now()
		w.lastReading = copyReading(m.Value)
		w.metrics.ReadingRecorded()
		level.Debug(ctx.Logger()).Log("msg", "recorded reading", "request_id", m.RequestID, "value", formatReading(m.Value))
		if m.ReplyTo != nil {
			m.ReplyTo.Tell(protocol.Acknowledged{RequestID: m.RequestID})
		}

	case protocol.Passivate:
		return actor.Stop

	case protocol.CheckIdle:
		if m.MaxIdle > 0 && ctx.Clock().Since(w.lastActive) >= m.MaxIdle {
			level.Info(ctx.Logger()).Log("msg", "passivating idle worker", "idle_for", ctx.Clock().Since(w.lastActive))
			return actor.Stop
		}

	case protocol.GetStats:
		m.ReplyTo.Tell(protocol.Stats{
			GroupID:    w.groupID,
			WorkerID:   w.workerID,
			Reads:      w.stats.Reads,
			Records:    w.stats.Records,
			LastActive: w.lastActive,
		})

	default:
		level.Warn(ctx.Logger()).Log("msg", "ignoring unroutable message", "type", fmt.Sprintf("%T", msg))
	}
	return actor.Continue
}

// PostStop runs once the worker has stopped, whichever way it stopped.
func (w *Worker) PostStop(ctx *actor.Context[protocol.WorkerCommand]) {
	w.metrics.WorkerStopped()
	level.Info(ctx.Logger()).Log("msg", "worker stopped", "group", w.groupID, "worker", w.workerID)
}

// copyReading keeps the stored reading private to the worker.
func copyReading(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func formatReading(v *float64) any {
	if v == nil {
		return "none"
	}
	return *v
}
