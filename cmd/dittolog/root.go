package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/config"
	"github.com/marmos91/dittolog/pkg/server"
	"github.com/spf13/cobra"
)

// rootOptions holds the flags that override the configuration.
type rootOptions struct {
	configPath string
	daemonize  bool
	logLevel   string
	port       int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dittolog",
		Short: "dittolog - shared packet log over TCP",
		Long: `dittolog accepts TCP clients, appends every newline-terminated packet
they send to one shared store and answers each packet with the whole store.
A timestamp record is appended periodically.`,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the config file (default $XDG_CONFIG_HOME/dittolog/config.yaml)")
	cmd.Flags().BoolVarP(&opts.daemonize, "daemon", "d", false, "detach and run in the background once the socket is bound (logs go to syslog unless a log file is configured)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "TCP port to listen on")

	cmd.AddCommand(newInitCommand(opts))

	return cmd
}

// loadConfig loads the configuration and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("daemon") {
		cfg.Server.Daemonize = opts.daemonize
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if flags.Changed("port") {
		cfg.Adapters.Socket.Port = opts.port
	}

	config.ApplyDefaults(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	if err := logger.Configure(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("dittolog %s starting (store=%s, port=%d)", version, cfg.Store.Type, cfg.Adapters.Socket.Port)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Caught signal, exiting (%v)", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := server.New(cfg).Run(ctx); err != nil {
		return err
	}

	logger.Info("dittolog stopped")
	return nil
}
