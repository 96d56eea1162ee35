// ABOUTME: Prometheus metrics for proxied upgrade connections
// ABOUTME: Nil-safe so the router works without a metrics registry

package proxy

import "github.com/prometheus/client_golang/prometheus"

// Connection results
const (
	resultBridged     = "bridged"
	resultNoToken     = "no_token"
	resultRejected    = "rejected"
	resultUnavailable = "backend_unavailable"
	resultDialFailed  = "dial_failed"
	resultForwardFail = "forward_failed"
)

// Metrics tracks upgrade connections. All methods are no-ops on a nil *Metrics.
type Metrics struct {
	connections *prometheus.CounterVec
	active      prometheus.Gauge
}

// NewMetrics creates proxy metrics and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "proxy",
			Name:      "connections_total",
			Help:      "Upgrade requests by outcome",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "proxy",
			Name:      "active_connections",
			Help:      "Upgrade connections currently bridged to a backend",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.active)
	}
	return m
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(result).Inc()
}

func (m *Metrics) addActive(delta float64) {
	if m == nil {
		return
	}
	m.active.Add(delta)
}
