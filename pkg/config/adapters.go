package config

import (
	"github.com/marmos91/dittolog/pkg/adapter"
	"github.com/marmos91/dittolog/pkg/adapter/socket"
	"github.com/marmos91/dittolog/pkg/metrics"
	"github.com/marmos91/dittolog/pkg/store"
)

// CreateAdapter creates the socket adapter from the configuration.
//
// server.shutdown_timeout is copied into the adapter, which owns the drain.
// socketMetrics may be nil.
func CreateAdapter(cfg *Config, log *store.Log, socketMetrics metrics.SocketMetrics) adapter.Adapter {
	socketCfg := cfg.Adapters.Socket
	socketCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout

	return socket.New(socketCfg, log, socketMetrics)
}
