package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittolog/pkg/adapter/socket"
	"github.com/marmos91/dittolog/pkg/store"
	"github.com/marmos91/dittolog/pkg/store/file"
	"github.com/marmos91/dittolog/pkg/ticker"
)

// Default locations of the persisted store.
const (
	DefaultFileStorePath   = file.DefaultPath
	DefaultBadgerStorePath = file.DefaultPath + ".badger"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults and explicit values are preserved.
// Settings where zero is meaningful (ticker.enabled, server.lock_file,
// server.setup.*) are defaulted by Load through viper instead.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyDaemonLogging(cfg)
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applySocketDefaults(&cfg.Adapters.Socket)
	applyTickerDefaults(&cfg.Ticker)
}

// applyLoggingDefaults sets logging defaults and normalizes the level.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyDaemonLogging sends logs to syslog when the process detaches, since a
// detached process has its standard streams on /dev/null.
func applyDaemonLogging(cfg *Config) {
	if !cfg.Server.Daemonize {
		return
	}
	switch strings.ToLower(cfg.Logging.Output) {
	case "stdout", "stderr":
		cfg.Logging.Output = "syslog"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyStoreDefaults fills the backend option maps so that CreateStore always
// finds a path.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "file"
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if cfg.File == nil {
		cfg.File = make(map[string]any)
	}
	if _, ok := cfg.File["path"]; !ok {
		cfg.File["path"] = DefaultFileStorePath
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = DefaultBadgerStorePath
	}

	if cfg.MaxEchoBuffer == 0 {
		cfg.MaxEchoBuffer = store.DefaultMaxEchoBuffer
	}
}

func applySocketDefaults(cfg *socket.Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 9000
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4096
	}
}

func applyTickerDefaults(cfg *ticker.Config) {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "timestamp:"
	}
}

// GetDefaultConfig returns a Config with every default applied, including
// the ones Load takes from viper.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			LockFile: defaultLockFile,
			Setup: SetupConfig{
				Retries:    defaultSetupRetries,
				RetryDelay: defaultSetupRetryDelay,
			},
		},
		Ticker: ticker.Config{
			Enabled: defaultTickerEnabled,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
