package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittolog Configuration File
#
# Every setting can be overridden with an environment variable named after
# its key: DITTOLOG_ followed by the upper-cased path with dots replaced by
# underscores, e.g. DITTOLOG_ADAPTERS_SOCKET_PORT=9001.`

// InitConfig writes a default configuration file to the default location.
//
// Returns the path of the written file. An existing file is only replaced
// when force is true.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) ([]byte, error) {
	sock := cfg.Adapters.Socket

	root := mapping(
		section("logging", "Log output", mapping(
			field("level", "DEBUG, INFO, WARN or ERROR", cfg.Logging.Level),
			field("format", "text or json", cfg.Logging.Format),
			field("output", "stdout, stderr, syslog or a file path", cfg.Logging.Output),
		)),
		section("server", "Process lifecycle", mapping(
			field("daemonize", "Detach from the terminal once the socket is bound", cfg.Server.Daemonize),
			field("shutdown_timeout", "How long to wait for connected clients on shutdown (0 waits forever)", cfg.Server.ShutdownTimeout.String()),
			field("lock_file", "Prevents a second instance from running (empty disables)", cfg.Server.LockFile),
			section("setup", "Retries of the socket setup", mapping(
				field("retries", "Additional bind attempts after the first one", cfg.Server.Setup.Retries),
				field("retry_delay", "Initial delay between attempts, doubled each time", cfg.Server.Setup.RetryDelay.String()),
			)),
			section("metrics", "Prometheus endpoint", mapping(
				field("enabled", "", cfg.Server.Metrics.Enabled),
				field("port", "", cfg.Server.Metrics.Port),
			)),
		)),
		section("store", "Shared packet store. It is truncated on start and removed on exit.", mapping(
			field("type", "file, memory or badger", cfg.Store.Type),
			field("max_echo_buffer", "Largest buffer used to send the store back to a client (bytes)", cfg.Store.MaxEchoBuffer),
			section("file", "", mapping(
				field("path", "", cfg.Store.File["path"]),
				field("fsync", "Flush to disk after every packet", false),
			)),
			section("badger", "", mapping(
				field("path", "", cfg.Store.Badger["path"]),
				field("sync_writes", "", false),
				field("in_memory", "", false),
			)),
		)),
		section("adapters", "", mapping(
			section("socket", "TCP packet adapter", mapping(
				field("host", "Interface to bind (0.0.0.0 for all)", sock.Host),
				field("port", "", sock.Port),
				field("backlog", "Listen queue length (0 uses the system maximum)", sock.Backlog),
				field("chunk_size", "Receive buffer growth increment (bytes)", sock.ChunkSize),
				field("idle_timeout", "Close clients that stay silent this long (0 disables)", sock.IdleTimeout.String()),
				field("write_timeout", "Deadline for each chunk sent to a client (0 disables)", sock.WriteTimeout.String()),
				field("max_connections", "Concurrent client limit (0 is unlimited)", sock.MaxConnections),
				field("accept_rate", "New connections admitted per second (0 is unlimited)", sock.AcceptRate),
				field("accept_burst", "Connections admitted at once before accept_rate applies", sock.AcceptBurst),
				field("metrics_log_interval", "Periodic connection count log line (0 disables)", sock.MetricsLogInterval.String()),
			)),
		)),
		section("ticker", "Periodic timestamp records", mapping(
			field("enabled", "", cfg.Ticker.Enabled),
			field("interval", "", cfg.Ticker.Interval.String()),
			field("prefix", "", cfg.Ticker.Prefix),
		)),
	)

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root.value},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// entry is one key of a YAML mapping.
type entry struct {
	key     string
	comment string
	value   *yaml.Node
}

func field(key, comment string, value any) entry {
	n := &yaml.Node{}
	if err := n.Encode(value); err != nil {
		// Scalars always encode.
		panic(fmt.Sprintf("encode %s: %v", key, err))
	}
	return entry{key: key, comment: comment, value: n}
}

func section(key, comment string, value entry) entry {
	return entry{key: key, comment: comment, value: value.value}
}

func mapping(entries ...entry) entry {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.key}
		if e.comment != "" {
			k.HeadComment = "# " + e.comment
		}
		n.Content = append(n.Content, k, e.value)
	}
	return entry{value: n}
}
