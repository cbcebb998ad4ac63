package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for record store client calls.
type Metrics struct {
	CallDuration *prometheus.HistogramVec
	BreakerOpen  prometheus.Gauge
}

// New creates and registers the client metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taxdesk_recordstore_call_duration_seconds",
			Help:    "Duration of record store calls by operation and outcome",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op", "outcome"}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taxdesk_recordstore_circuit_open",
			Help: "1 while the record store circuit breaker is open",
		}),
	}
}

// ObserveCall records one completed call.
func (m *Metrics) ObserveCall(op, outcome string, seconds float64) {
	m.CallDuration.WithLabelValues(op, outcome).Observe(seconds)
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
