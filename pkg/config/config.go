package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittolog/pkg/adapter/socket"
	"github.com/marmos91/dittolog/pkg/ticker"
	"github.com/spf13/viper"
)

// Config represents the complete dittolog configuration.
//
// Configuration sources, highest precedence first:
//  1. Command-line flags (applied by the caller)
//  2. Environment variables (DITTOLOG_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Store selects and configures the shared packet store
	Store StoreConfig `mapstructure:"store"`

	// Adapters contains the network adapter settings
	Adapters AdaptersConfig `mapstructure:"adapters"`

	// Ticker controls the periodic timestamp records
	Ticker ticker.Config `mapstructure:"ticker"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, syslog, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// Daemonize detaches the process after the socket is bound.
	Daemonize bool `mapstructure:"daemonize"`

	// ShutdownTimeout bounds the drain of connected clients.
	// 0 waits until every client has disconnected.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// LockFile guards against a second instance. Empty disables locking.
	LockFile string `mapstructure:"lock_file"`

	// Setup controls retries of the socket setup.
	Setup SetupConfig `mapstructure:"setup"`

	// Metrics controls the Prometheus exposition server.
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// SetupConfig controls how often a failed bind is retried.
type SetupConfig struct {
	// Retries is the number of additional attempts after the first one.
	Retries int `mapstructure:"retries" validate:"min=0"`

	// RetryDelay is the initial delay between attempts. It grows exponentially.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// MetricsConfig configures the metrics HTTP server.
type MetricsConfig struct {
	// Enabled starts the /metrics endpoint.
	Enabled bool `mapstructure:"enabled"`

	// Port of the metrics HTTP server.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// StoreConfig specifies the store backend.
//
// Type selects the backend and the matching map holds its options.
// Options are decoded by CreateStore.
type StoreConfig struct {
	// Type specifies which backend to use
	// Valid values: file, memory, badger
	Type string `mapstructure:"type" validate:"required,oneof=file memory badger"`

	// File contains file backend options
	File map[string]any `mapstructure:"file"`

	// Badger contains BadgerDB backend options
	Badger map[string]any `mapstructure:"badger"`

	// MaxEchoBuffer caps the buffer used to send the store back to a client.
	MaxEchoBuffer int64 `mapstructure:"max_echo_buffer" validate:"min=0"`
}

// AdaptersConfig contains the network adapter settings.
type AdaptersConfig struct {
	// Socket is the TCP packet adapter
	Socket socket.Config `mapstructure:"socket"`
}

// Settings whose zero value is meaningful. They are registered with viper so
// that an explicit false, 0 or "" in a file or the environment is kept.
const (
	defaultTickerEnabled   = true
	defaultLockFile        = "/var/tmp/dittolog.lock"
	defaultSetupRetries    = 5
	defaultSetupRetryDelay = time.Second
)

// envKeys lists every key that can be overridden from the environment.
// viper only consults the environment for keys it already knows about.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.daemonize",
	"server.shutdown_timeout",
	"server.lock_file",
	"server.setup.retries",
	"server.setup.retry_delay",
	"server.metrics.enabled",
	"server.metrics.port",
	"store.type",
	"store.max_echo_buffer",
	"store.file.path",
	"store.file.fsync",
	"store.badger.path",
	"store.badger.sync_writes",
	"store.badger.in_memory",
	"adapters.socket.host",
	"adapters.socket.port",
	"adapters.socket.backlog",
	"adapters.socket.chunk_size",
	"adapters.socket.idle_timeout",
	"adapters.socket.write_timeout",
	"adapters.socket.max_connections",
	"adapters.socket.accept_rate",
	"adapters.socket.accept_burst",
	"adapters.socket.metrics_log_interval",
	"ticker.enabled",
	"ticker.interval",
	"ticker.prefix",
}

// Load loads configuration from file, environment and defaults.
//
// If configPath is empty, the default location is used
// ($XDG_CONFIG_HOME/dittolog/config.yaml or ~/.config/dittolog/config.yaml).
// A missing file is not an error: defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures the environment binding, file lookup and the
// defaults viper must own.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("DITTOLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		// BindEnv only fails when called without a key.
		_ = v.BindEnv(key)
	}

	v.SetDefault("ticker.enabled", defaultTickerEnabled)
	v.SetDefault("server.lock_file", defaultLockFile)
	v.SetDefault("server.setup.retries", defaultSetupRetries)
	v.SetDefault("server.setup.retry_delay", defaultSetupRetryDelay)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory following XDG conventions.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittolog")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittolog")
}

// GetDefaultConfigPath returns the path of the default config file.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists reports whether the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
