package tracker

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the tracker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	decisions         *prometheus.CounterVec
	lookups           *prometheus.CounterVec
	records           prometheus.Gauge
	consistencyErrors prometheus.Counter
}

// NewMetrics creates the tracker collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zimit",
			Subsystem: "tracker",
			Name:      "decisions_total",
			Help:      "Admission decisions by status.",
		},
		[]string{"status"},
	)
	registerer.MustRegister(decisions)

	lookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zimit",
			Subsystem: "tracker",
			Name:      "status_lookups_total",
			Help:      "Task status lookups by outcome (active, terminal, not_found, error).",
		},
		[]string{"outcome"},
	)
	registerer.MustRegister(lookups)

	records := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "zimit", Subsystem: "tracker", Name: "client_records",
		Help: "Callers currently holding at least one outstanding task.",
	})
	registerer.MustRegister(records)

	consistencyErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "zimit", Subsystem: "tracker", Name: "consistency_errors_total",
		Help: "Registry invariant violations.",
	})
	registerer.MustRegister(consistencyErrors)

	return &Metrics{
		decisions:         decisions,
		lookups:           lookups,
		records:           records,
		consistencyErrors: consistencyErrors,
	}
}

func (m *Metrics) observeDecision(status Status) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setRecords(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}

func (m *Metrics) observeConsistencyError() {
	if m == nil {
		return
	}
	m.consistencyErrors.Inc()
}
