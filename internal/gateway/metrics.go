package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks device channel activity.
type Metrics struct {
	connections prometheus.Gauge
	rejected    *prometheus.CounterVec
	pushes      *prometheus.CounterVec
}

// NewMetrics registers the channel collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "doorlock_channel_connections",
			Help: "Open device channel connections.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorlock_channel_rejected_total",
			Help: "Refused channel open requests by reason.",
		}, []string{"reason"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "doorlock_channel_pushes_total",
			Help: "Server to device pushes by type and outcome.",
		}, []string{"type", "outcome"}),
	}
	registerer.MustRegister(m.connections, m.rejected, m.pushes)
	return m
}

func (m *Metrics) opened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) closed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) reject(reason string) {
	if m != nil {
		m.rejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) push(kind, outcome string) {
	if m != nil {
		m.pushes.WithLabelValues(kind, outcome).Inc()
	}
}
