package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the synchronization controller.
type Metrics struct {
	// Commands received, by command name
	Commands *prometheus.CounterVec

	// Fetch outcomes dropped because a newer fetch was issued
	Discarded *prometheus.CounterVec

	// Remote calls issued and not yet settled
	InFlight prometheus.Gauge

	// Remote failures by operation and normalized kind
	RemoteErrors *prometheus.CounterVec
}

// New creates the controller metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taxdesk_syncctl_commands_total",
			Help: "Total commands handled by the synchronization controller",
		}, []string{"command"}),

		Discarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taxdesk_syncctl_results_discarded_total",
			Help: "Fetch results dropped because a newer fetch superseded them",
		}, []string{"op"}),

		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taxdesk_syncctl_calls_in_flight",
			Help: "Record store calls issued and not yet settled",
		}),

		RemoteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taxdesk_syncctl_remote_errors_total",
			Help: "Record store failures seen by the controller by operation and kind",
		}, []string{"op", "kind"}),
	}
}

func (m *Metrics) IncCommand(command string) {
	if m != nil {
		m.Commands.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) IncDiscarded(op string) {
	if m != nil {
		m.Discarded.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetInFlight(n int) {
	if m != nil {
		m.InFlight.Set(float64(n))
	}
}

func (m *Metrics) IncRemoteError(op, kind string) {
	if m != nil {
		m.RemoteErrors.WithLabelValues(op, kind).Inc()
	}
}
