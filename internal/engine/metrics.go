package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for cascade_executions_total.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeDeclined = "declined"
)

// Metrics holds the processor's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	executions *prometheus.CounterVec
	inFlight   prometheus.Gauge
	pending    prometheus.Gauge
	duration   *prometheus.HistogramVec
	versions   prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_executions_total",
			Help: "Units of work executed, by producer and outcome",
		}, []string{"producer", "outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_in_flight",
			Help: "Executions currently running a unit of work",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_pending_records",
			Help: "Matching records not yet locked, as of the last scan",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cascade_execution_seconds",
			Help:    "Duration of one execution including hooks and commit",
			Buckets: prometheus.DefBuckets,
		}, []string{"producer"}),
		versions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cascade_versions_committed_total",
			Help: "Store versions committed by units of work",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.executions, m.inFlight, m.pending, m.duration, m.versions)
	}
	return m
}

func (m *Metrics) observe(producer, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(producer, outcome).Inc()
	if outcome != OutcomeDeclined {
		m.duration.WithLabelValues(producer).Observe(d.Seconds())
	}
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) versionCommitted() {
	if m == nil {
		return
	}
	m.versions.Inc()
}
