package sessionkit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects readiness protocol counters. A nil *Metrics records nothing.
type Metrics struct {
	verifyAttempts prometheus.Histogram
	verifyTotal    *prometheus.CounterVec
	initTotal      *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		verifyAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sessionkit",
			Subsystem: "verify",
			Name:      "attempts",
			Help:      "Store reads performed per session verification.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Subsystem: "verify",
			Name:      "total",
			Help:      "Session verifications by outcome.",
		}, []string{"outcome"}),
		initTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Subsystem: "initialize",
			Name:      "total",
			Help:      "Session initializations by terminal state.",
		}, []string{"state", "step"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessionkit",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Session store failures by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.verifyAttempts, m.verifyTotal, m.initTotal, m.storeErrors)
	}
	return m
}

func (m *Metrics) observeVerify(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.verifyTotal.WithLabelValues(outcome).Inc()
	m.verifyAttempts.Observe(float64(attempts))
}

// observeInit records a terminal initialization state and the step it ended in.
func (m *Metrics) observeInit(state, step InitState) {
	if m == nil {
		return
	}
	m.initTotal.WithLabelValues(state.String(), step.String()).Inc()
}

func (m *Metrics) storeError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}
