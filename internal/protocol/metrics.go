package protocol

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts inbound events and access decisions.
type Metrics struct {
	events    *prometheus.CounterVec
	decisions *prometheus.CounterVec
}

// NewMetrics registers the protocol collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doorlock_device_events_total",
		Help: "Inbound device messages by kind and outcome.",
	}, []string{"kind", "outcome"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "doorlock_access_decisions_total",
		Help: "Access decisions by action and reason.",
	}, []string{"action", "reason"})
	registerer.MustRegister(events, decisions)
	return &Metrics{events: events, decisions: decisions}
}

func (m *Metrics) event(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) decision(d Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(d.Action), d.Reason).Inc()
}
