package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitCommand_WritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"init", "--config", path})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("Expected output to mention %s, got %q", path, out.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file not written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"init", "--config", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("Expected error when the config already exists")
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: INFO
adapters:
  socket:
    port: 9100
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cmd := newRootCommand()
	if err := cmd.ParseFlags([]string{"--config", path, "-d", "--log-level", "debug", "-p", "9200"}); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	opts := &rootOptions{}
	opts.configPath, _ = cmd.Flags().GetString("config")
	opts.daemonize, _ = cmd.Flags().GetBool("daemon")
	opts.logLevel, _ = cmd.Flags().GetString("log-level")
	opts.port, _ = cmd.Flags().GetInt("port")

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if !cfg.Server.Daemonize {
		t.Error("Expected -d to enable daemonize")
	}
	if cfg.Logging.Output != "syslog" {
		t.Errorf("Expected -d to move stdout logging to syslog, got %q", cfg.Logging.Output)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.Socket.Port != 9200 {
		t.Errorf("Expected port 9200, got %d", cfg.Adapters.Socket.Port)
	}
}

func TestLoadConfig_UnsetFlagsKeepFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("adapters:\n  socket:\n    port: 9100\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cmd := newRootCommand()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := loadConfig(cmd, &rootOptions{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Adapters.Socket.Port != 9100 {
		t.Errorf("Expected port 9100 from file, got %d", cfg.Adapters.Socket.Port)
	}
	if cfg.Server.Daemonize {
		t.Error("Expected foreground when -d is not given")
	}
}
