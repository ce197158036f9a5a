package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	configPath := writeConfig(t, `
logging:
  level: "debug"

adapters:
  socket:
    port: 9100
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Adapters.Socket.Port != 9100 {
		t.Errorf("Expected socket port 9100, got %d", cfg.Adapters.Socket.Port)
	}
	if cfg.Adapters.Socket.ChunkSize != 4096 {
		t.Errorf("Expected default chunk size 4096, got %d", cfg.Adapters.Socket.ChunkSize)
	}
	if cfg.Server.ShutdownTimeout != 0 {
		t.Errorf("Expected default shutdown_timeout 0, got %v", cfg.Server.ShutdownTimeout)
	}
	if !cfg.Ticker.Enabled {
		t.Error("Expected ticker enabled by default")
	}
	if cfg.Ticker.Interval != 10*time.Second {
		t.Errorf("Expected default ticker interval 10s, got %v", cfg.Ticker.Interval)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// An explicit missing path keeps the user's own config out of the test.
	nonExistentPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Store.Type != "file" {
		t.Errorf("Expected default store type 'file', got %q", cfg.Store.Type)
	}
	if cfg.Store.File["path"] != DefaultFileStorePath {
		t.Errorf("Expected default store path %q, got %v", DefaultFileStorePath, cfg.Store.File["path"])
	}
	if cfg.Adapters.Socket.Port != 9000 {
		t.Errorf("Expected default port 9000, got %d", cfg.Adapters.Socket.Port)
	}
	if cfg.Server.LockFile != defaultLockFile {
		t.Errorf("Expected default lock file %q, got %q", defaultLockFile, cfg.Server.LockFile)
	}
	if cfg.Server.Setup.Retries != defaultSetupRetries {
		t.Errorf("Expected default retries %d, got %d", defaultSetupRetries, cfg.Server.Setup.Retries)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "logging:\n  level: [unclosed\n")

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidValue(t *testing.T) {
	configPath := writeConfig(t, `
store:
  type: "s3"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected validation error for unknown store type, got nil")
	}
}

func TestLoad_ExplicitZeroValuesKept(t *testing.T) {
	configPath := writeConfig(t, `
server:
  lock_file: ""
  setup:
    retries: 0
ticker:
  enabled: false
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.LockFile != "" {
		t.Errorf("Expected lock file disabled, got %q", cfg.Server.LockFile)
	}
	if cfg.Server.Setup.Retries != 0 {
		t.Errorf("Expected 0 retries, got %d", cfg.Server.Setup.Retries)
	}
	if cfg.Ticker.Enabled {
		t.Error("Expected ticker disabled")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DITTOLOG_ADAPTERS_SOCKET_PORT", "9200")
	t.Setenv("DITTOLOG_LOGGING_LEVEL", "warn")
	t.Setenv("DITTOLOG_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("DITTOLOG_STORE_FILE_PATH", "/tmp/dittolog-env-test")
	t.Setenv("DITTOLOG_TICKER_ENABLED", "false")

	configPath := writeConfig(t, `
adapters:
  socket:
    port: 9100
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Adapters.Socket.Port != 9200 {
		t.Errorf("Expected env port 9200 to win over file, got %d", cfg.Adapters.Socket.Port)
	}
	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Expected shutdown_timeout 3s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Store.File["path"] != "/tmp/dittolog-env-test" {
		t.Errorf("Expected env store path, got %v", cfg.Store.File["path"])
	}
	if cfg.Ticker.Enabled {
		t.Error("Expected ticker disabled from environment")
	}
}

func TestGetConfigDir_XDG(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if got, want := GetConfigDir(), filepath.Join(tmpDir, "dittolog"); got != want {
		t.Errorf("Expected config dir %q, got %q", want, got)
	}
	if got, want := GetDefaultConfigPath(), filepath.Join(tmpDir, "dittolog", "config.yaml"); got != want {
		t.Errorf("Expected config path %q, got %q", want, got)
	}
	if ConfigExists() {
		t.Error("Expected no config in an empty directory")
	}
}
