package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dkeye/nyx/internal/domain"
)

// Metrics are the relay's prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ActiveCodes   prometheus.Gauge
	Connections   prometheus.Gauge
	Registrations prometheus.Counter
	Routed        *prometheus.CounterVec
	RouteFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "nyx", Subsystem: "relay", Name: "active_codes",
			Help: "Rendezvous codes currently held in the registry.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "nyx", Subsystem: "relay", Name: "connections",
			Help: "Open signaling connections.",
		}),
		Registrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nyx", Subsystem: "relay", Name: "registrations_total",
			Help: "Successful code registrations.",
		}),
		Routed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyx", Subsystem: "relay", Name: "routed_total",
			Help: "Envelopes forwarded, by type.",
		}, []string{"type"}),
		RouteFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nyx", Subsystem: "relay", Name: "route_failures_total",
			Help: "Envelopes that could not be delivered.",
		}),
	}
}

func (m *Metrics) setCodes(n int) {
	if m == nil {
		return
	}
	m.ActiveCodes.Set(float64(n))
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) incRegistrations() {
	if m == nil {
		return
	}
	m.Registrations.Inc()
}

func (m *Metrics) incRouted(t domain.MessageType) {
	if m == nil {
		return
	}
	m.Routed.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) incRouteFailures() {
	if m == nil {
		return
	}
	m.RouteFailures.Inc()
}
