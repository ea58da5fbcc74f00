package workpool

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors a Pool reports through. A nil
// *Metrics is valid: every method on it is a no-op, so wiring metrics in is
// optional for callers that have no registry to report to.
type Metrics struct {
	active    prometheus.Gauge
	capacity  prometheus.Gauge
	submitted prometheus.Counter
}

// NewMetrics builds a Metrics with the given capacity label and registers
// its collectors with reg.
func NewMetrics(reg prometheus.Registerer, capacity int) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hoprd",
			Subsystem: "workpool",
			Name:      "active_jobs",
			Help:      "Number of jobs currently holding a pool slot.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hoprd",
			Subsystem: "workpool",
			Name:      "capacity",
			Help:      "Configured concurrency cap of the pool.",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hoprd",
			Subsystem: "workpool",
			Name:      "submitted_total",
			Help:      "Total jobs submitted to the pool.",
		}),
	}
	m.capacity.Set(float64(capacity))

	reg.MustRegister(m.active, m.capacity, m.submitted)

	return m
}

func (m *Metrics) acquired() {
	if m == nil {
		return
	}
	m.submitted.Inc()
	m.active.Inc()
}

func (m *Metrics) released() {
	if m == nil {
		return
	}
	m.active.Dec()
}
