package prometheus

import (
	"time"

	"github.com/marmos91/dittolog/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics is the Prometheus implementation of metrics.StoreMetrics.
type storeMetrics struct {
	appendsTotal  *prometheus.CounterVec
	appendedBytes *prometheus.CounterVec
	echoBytes     prometheus.Counter
	echoDuration  prometheus.Histogram
	lockWait      prometheus.Histogram
	size          prometheus.Gauge
}

// NewStoreMetrics creates a Prometheus-backed StoreMetrics.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() metrics.StoreMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopStoreMetrics()
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		appendsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittolog_store_appends_total",
				Help: "Total number of store appends by source and status",
			},
			[]string{"source", "status"},
		),
		appendedBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittolog_store_appended_bytes_total",
				Help: "Total bytes appended to the store by source",
			},
			[]string{"source"},
		),
		echoBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittolog_store_echo_bytes_total",
				Help: "Total bytes of store content echoed back to clients",
			},
		),
		echoDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittolog_store_echo_duration_milliseconds",
				Help: "Time spent holding the store lock for append and echo",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
		),
		lockWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittolog_store_lock_wait_milliseconds",
				Help: "Time spent waiting to acquire the store lock",
				Buckets: []float64{
					0.1,  // 100us
					1,    // 1ms
					10,   // 10ms
					100,  // 100ms
					1000, // 1s
				},
			},
		),
		size: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittolog_store_size_bytes",
				Help: "Current size of the store in bytes",
			},
		),
	}
}

func (m *storeMetrics) RecordAppend(source string, bytes int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.appendsTotal.WithLabelValues(source, status).Inc()
	if err == nil {
		m.appendedBytes.WithLabelValues(source).Add(float64(bytes))
	}
}

func (m *storeMetrics) RecordEcho(bytes int64, duration time.Duration) {
	m.echoBytes.Add(float64(bytes))
	m.echoDuration.Observe(duration.Seconds() * 1000) // Convert to milliseconds
}

func (m *storeMetrics) RecordLockWait(wait time.Duration) {
	m.lockWait.Observe(wait.Seconds() * 1000)
}

func (m *storeMetrics) SetSize(bytes int64) {
	m.size.Set(float64(bytes))
}
