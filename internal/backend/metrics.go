// ABOUTME: Prometheus metrics for backend process lifecycle
// ABOUTME: Nil-safe so the orchestrator works without a metrics registry

package backend

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks backend processes. All methods are no-ops on a nil *Metrics.
type Metrics struct {
	processes *prometheus.GaugeVec
	starts    *prometheus.CounterVec
	stops     *prometheus.CounterVec
	exits     prometheus.Counter
}

// NewMetrics creates backend metrics and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "backend",
			Name:      "processes",
			Help:      "Tracked backend processes by state",
		}, []string{"state"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "backend",
			Name:      "starts_total",
			Help:      "Backend start requests by result",
		}, []string{"result"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "backend",
			Name:      "stops_total",
			Help:      "Backend stop requests by result",
		}, []string{"result"}),
		exits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "backend",
			Name:      "exits_total",
			Help:      "Backend processes that exited on their own",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.processes, m.starts, m.stops, m.exits)
	}
	return m
}

func (m *Metrics) setProcesses(starting, ready int) {
	if m == nil {
		return
	}
	m.processes.WithLabelValues(StateStarting.String()).Set(float64(starting))
	m.processes.WithLabelValues(StateReady.String()).Set(float64(ready))
}

func (m *Metrics) observeStart(result string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(result).Inc()
}

func (m *Metrics) observeStop(result string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(result).Inc()
}

func (m *Metrics) observeExit() {
	if m == nil {
		return
	}
	m.exits.Inc()
}
