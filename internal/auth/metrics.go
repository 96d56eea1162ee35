// ABOUTME: Prometheus counters for token verification outcomes
// ABOUTME: Nil-safe so tests and disabled metrics need no special casing

package auth

import "github.com/prometheus/client_golang/prometheus"

// Verification result label values.
const (
	resultAccepted      = "accepted"
	resultRejected      = "rejected"
	resultUnknownIssuer = "unknown_issuer"
	resultUpstreamError = "upstream_error"
)

// Metrics counts verification outcomes. All methods are no-ops on a nil *Metrics.
type Metrics struct {
	verifications *prometheus.CounterVec
	logins        *prometheus.CounterVec
}

// NewMetrics creates auth metrics and registers them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "auth",
			Name:      "token_verifications_total",
			Help:      "Token verifications by result",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Password logins by result",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.verifications, m.logins)
	}
	return m
}

func (m *Metrics) observeVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

// ObserveLogin records a login attempt outcome.
func (m *Metrics) ObserveLogin(ok bool) {
	if m == nil {
		return
	}
	result := resultAccepted
	if !ok {
		result = resultRejected
	}
	m.logins.WithLabelValues(result).Inc()
}
