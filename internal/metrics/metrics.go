// Package metrics holds the Prometheus collectors shared by the registry,
// its groups, workers and aggregate queries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dreamware/sensord/internal/protocol"
)

const namespace = "sensord"

// Metrics is safe for concurrent use. A nil *Metrics disables
// instrumentation; every method is a no-op on it.
type Metrics struct {
	GroupsActive     prometheus.Gauge
	WorkersActive    prometheus.Gauge
	ReadingsRecorded prometheus.Counter
	QueriesTotal     prometheus.Counter
	QueryOutcomes    *prometheus.CounterVec // Per outcome kind.
	QueryDuration    prometheus.Histogram
}

// New registers the collectors with reg. A nil reg creates unregistered
// collectors, which is what most tests want.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		GroupsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "groups_active",
			Help:      "Number of groups currently alive in the registry.",
		}),
		WorkersActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_active",
			Help:      "Number of workers currently alive across all groups.",
		}),
		ReadingsRecorded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_recorded_total",
			Help:      "Total number of readings recorded by workers.",
		}),
		QueriesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of aggregate reads completed.",
		}),
		QueryOutcomes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_outcomes_total",
			Help:      "Total number of per-worker outcomes reported by aggregate reads.",
		}, []string{"outcome"}),
		QueryDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time from spawning an aggregate read to its response.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
}

func (m *Metrics) GroupStarted() {
	if m != nil {
		m.GroupsActive.Inc()
	}
}

func (m *Metrics) GroupStopped() {
	if m != nil {
		m.GroupsActive.Dec()
	}
}

func (m *Metrics) WorkerStarted() {
	if m != nil {
		m.WorkersActive.Inc()
	}
}

func (m *Metrics) WorkerStopped() {
	if m != nil {
		m.WorkersActive.Dec()
	}
}

func (m *Metrics) ReadingRecorded() {
	if m != nil {
		m.ReadingsRecorded.Inc()
	}
}

// QueryCompleted records one finished aggregate read.
func (m *Metrics) QueryCompleted(seconds float64, outcomes map[string]protocol.Outcome) {
	if m == nil {
		return
	}
	m.QueriesTotal.Inc()
	m.QueryDuration.Observe(seconds)
	for _, o := range outcomes {
		m.QueryOutcomes.WithLabelValues(o.Kind.String()).Inc()
	}
}
