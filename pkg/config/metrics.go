package config

import (
	"github.com/marmos91/dittolog/pkg/metrics"
	promMetrics "github.com/marmos91/dittolog/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// SocketMetrics is the collector for the socket adapter (never nil, noop if disabled)
	SocketMetrics metrics.SocketMetrics

	// StoreMetrics is the collector for the shared store (never nil, noop if disabled)
	StoreMetrics metrics.StoreMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled, the global Prometheus registry is initialized and
// Prometheus-backed collectors are returned together with the HTTP server.
// Otherwise the server is nil and the collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			SocketMetrics: metrics.NewNoopSocketMetrics(),
			StoreMetrics:  metrics.NewNoopStoreMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:        server,
		SocketMetrics: promMetrics.NewSocketMetrics(),
		StoreMetrics:  promMetrics.NewStoreMetrics(),
	}
}
