package prometheus

import (
	"github.com/marmos91/dittolog/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// socketMetrics is the Prometheus implementation of metrics.SocketMetrics.
type socketMetrics struct {
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	packetsTotal           prometheus.Counter
	packetBytes            prometheus.Histogram
	workerErrors           *prometheus.CounterVec
	workersReaped          prometheus.Counter
}

// NewSocketMetrics creates a Prometheus-backed SocketMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewSocketMetrics() metrics.SocketMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSocketMetrics()
	}

	reg := metrics.GetRegistry()

	return &socketMetrics{
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittolog_socket_active_connections",
				Help: "Current number of connected clients",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittolog_socket_connections_accepted_total",
				Help: "Total number of client connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittolog_socket_connections_closed_total",
				Help: "Total number of client connections closed",
			},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittolog_socket_connections_force_closed_total",
				Help: "Total number of client connections closed by the drain timeout",
			},
		),
		packetsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittolog_socket_packets_total",
				Help: "Total number of newline-terminated packets received",
			},
		),
		packetBytes: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittolog_socket_packet_size_bytes",
				Help: "Distribution of received packet sizes",
				Buckets: []float64{
					64,      // 64B
					1024,    // 1KB
					4096,    // 4KB
					65536,   // 64KB
					1048576, // 1MB
				},
			},
		),
		workerErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittolog_socket_worker_errors_total",
				Help: "Total number of connection workers terminated by an error",
			},
			[]string{"reason"},
		),
		workersReaped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittolog_socket_workers_reaped_total",
				Help: "Total number of finished connection workers joined by the registry",
			},
		),
	}
}

func (m *socketMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *socketMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *socketMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *socketMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *socketMetrics) RecordPacket(bytes int) {
	m.packetsTotal.Inc()
	m.packetBytes.Observe(float64(bytes))
}

func (m *socketMetrics) RecordWorkerError(reason string) {
	m.workerErrors.WithLabelValues(reason).Inc()
}

func (m *socketMetrics) RecordWorkersReaped(count int) {
	m.workersReaped.Add(float64(count))
}
