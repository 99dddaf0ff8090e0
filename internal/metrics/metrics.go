// Package metrics registers the Prometheus collectors exposed by the
// control API's /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements coordinator.MetricsSink against a Prometheus
// registry. The zero value is invalid; use New.
type Metrics struct {
	activeTransfers   prometheus.Gauge
	bytesTransferred  prometheus.Counter
	sessionsConnected prometheus.Gauge
}

// New registers the filemesh collectors against reg and returns a
// Metrics ready to pass to coordinator.New. Use prometheus.NewRegistry
// in tests to avoid colliding with the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeTransfers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filemesh_active_transfers",
			Help: "Number of transfers currently registered with the coordinator.",
		}),
		bytesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "filemesh_bytes_transferred_total",
			Help: "Total bytes accepted into the chunk store across all transfers.",
		}),
		sessionsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "filemesh_sessions_connected",
			Help: "Number of currently connected peer sessions.",
		}),
	}
}

// SetActiveTransfers implements coordinator.MetricsSink.
func (m *Metrics) SetActiveTransfers(n int) {
	m.activeTransfers.Set(float64(n))
}

// AddBytesTransferred implements coordinator.MetricsSink.
func (m *Metrics) AddBytesTransferred(n float64) {
	if n <= 0 {
		return
	}
	m.bytesTransferred.Add(n)
}

// SetSessionsConnected records the current peer session count, updated
// by internal/wire.Registry on connect/disconnect.
func (m *Metrics) SetSessionsConnected(n int) {
	m.sessionsConnected.Set(float64(n))
}
