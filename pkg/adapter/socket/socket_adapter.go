package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/internal/ratelimiter"
	"github.com/marmos91/dittolog/pkg/adapter"
	"github.com/marmos91/dittolog/pkg/metrics"
	"github.com/marmos91/dittolog/pkg/store"
)

// ErrDrainTimeout is returned by Serve when the shutdown timeout expired and
// the remaining client sockets had to be closed.
var ErrDrainTimeout = errors.New("shutdown timeout exceeded")

// Adapter implements the packet echo protocol on top of a listening socket.
//
// Each accepted connection is handled by its own goroutine, tracked by a
// Registry. Finished workers are reaped on every accepted connection, so the
// accept loop never waits on a worker while serving.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Wait for every worker to finish on its own (peer close or error)
//  4. If ShutdownTimeout > 0 and expires, close the remaining client sockets
//
// Workers are never interrupted by shutdown itself. A connected client keeps
// being served until it disconnects.
type Adapter struct {
	config  Config
	log     *store.Log
	metrics metrics.SocketMetrics

	// registry is owned by the Serve goroutine.
	registry *Registry

	shutdownOnce sync.Once
	shutdown     chan struct{}

	// serving is set when Serve starts, stopped is closed when it returns.
	serving atomic.Bool
	stopped chan struct{}

	connCount     atomic.Int32
	connSemaphore chan struct{}
	acceptLimiter *ratelimiter.RateLimiter

	// workerCtx outlives the Serve context. It is cancelled only after
	// workers have been force-closed.
	workerCtx     context.Context
	cancelWorkers context.CancelFunc
}

var _ adapter.Adapter = (*Adapter)(nil)

// Config holds the socket adapter settings.
//
// Default values (applied by New if zero):
//   - Host: 0.0.0.0
//   - Port: 9000
//   - Backlog: SOMAXCONN (applied by the listener)
//   - ChunkSize: 4096
//
// IdleTimeout, WriteTimeout, MaxConnections, AcceptRate, ShutdownTimeout
// and MetricsLogInterval are disabled when zero.
type Config struct {
	// Host is the interface to bind. Empty or 0.0.0.0 means all interfaces.
	Host string `mapstructure:"host"`

	// Port is the TCP port to listen on.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Backlog is the listen queue length. 0 selects the platform maximum.
	Backlog int `mapstructure:"backlog" validate:"min=0"`

	// ChunkSize is the packet buffer growth increment in bytes.
	ChunkSize int `mapstructure:"chunk_size" validate:"min=0"`

	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// WriteTimeout bounds each chunk written back to a client.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// MaxConnections limits concurrent clients. Accepting pauses at the limit.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// AcceptRate limits new connections per second. Excess connections wait
	// in the listen backlog.
	AcceptRate uint `mapstructure:"accept_rate"`

	// AcceptBurst is the number of connections admitted at once before
	// AcceptRate applies.
	AcceptBurst uint `mapstructure:"accept_burst"`

	// MetricsLogInterval periodically logs the active connection count.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`

	// ShutdownTimeout bounds the drain. Set from server.shutdown_timeout.
	ShutdownTimeout time.Duration `mapstructure:"-"`
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 4096
	}
}

func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("invalid backlog %d: must be >= 0", c.Backlog)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.IdleTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid timeouts: idle=%v write=%v shutdown=%v must be >= 0",
			c.IdleTimeout, c.WriteTimeout, c.ShutdownTimeout)
	}
	return nil
}

// New creates an adapter in a stopped state. log is shared with the rest of
// the process. A nil socketMetrics disables metrics.
//
// Panics if config validation fails.
func New(config Config, log *store.Log, socketMetrics metrics.SocketMetrics) *Adapter {
	config.applyDefaults()

	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid socket config: %v", err))
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
		logger.Debug("Connection limit: %d", config.MaxConnections)
	} else {
		logger.Debug("Connection limit: unlimited")
	}

	acceptLimiter := ratelimiter.New(config.AcceptRate, config.AcceptBurst)
	if !acceptLimiter.Unlimited() {
		logger.Debug("Accept rate limit: %d/s (burst %d)", config.AcceptRate, config.AcceptBurst)
	}

	if socketMetrics == nil {
		socketMetrics = metrics.NewNoopSocketMetrics()
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	return &Adapter{
		config:        config,
		log:           log,
		metrics:       socketMetrics,
		registry:      NewRegistry(),
		shutdown:      make(chan struct{}),
		stopped:       make(chan struct{}),
		connSemaphore: connSemaphore,
		acceptLimiter: acceptLimiter,
		workerCtx:     workerCtx,
		cancelWorkers: cancelWorkers,
	}
}

// Serve accepts connections on ln until ctx is cancelled or Stop is called,
// then drains every worker. ln is closed by the adapter.
//
// Returns:
//   - nil after a clean drain
//   - an error wrapping ErrDrainTimeout if sockets were force-closed
//   - an error if the listener failed outside of shutdown
//
// Serve must be called once per Adapter.
func (s *Adapter) Serve(ctx context.Context, ln net.Listener) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errors.New("socket adapter already serving")
	}
	defer close(s.stopped)

	logger.Info("Listening on %s", ln.Addr())
	logger.Debug("Socket config: chunk_size=%d max_connections=%d idle_timeout=%v write_timeout=%v shutdown_timeout=%v",
		s.config.ChunkSize, s.config.MaxConnections, s.config.IdleTimeout, s.config.WriteTimeout, s.config.ShutdownTimeout)

	// acceptCtx ends with shutdown and releases a throttled accept loop.
	acceptCtx, cancelAccept := context.WithCancel(context.Background())
	defer cancelAccept()

	// Closing the listener unblocks Accept.
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Socket adapter shutdown signal received: %v", ctx.Err())
			s.initiateShutdown()
		case <-s.shutdown:
		}
		cancelAccept()
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error closing listener: %v", err)
		}
	}()

	metricsDone := make(chan struct{})
	if s.config.MetricsLogInterval > 0 {
		go func() {
			defer close(metricsDone)
			s.logMetrics(ctx)
		}()
	} else {
		close(metricsDone)
	}

	acceptErr := s.acceptLoop(acceptCtx, ln)

	drainErr := s.gracefulShutdown()
	<-metricsDone
	return errors.Join(acceptErr, drainErr)
}

// acceptLoop returns nil when shutdown was requested and an error when the
// listener failed on its own.
func (s *Adapter) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		select {
		case <-s.shutdown:
			return nil
		default:
		}

		if err := s.acceptLimiter.Wait(ctx); err != nil {
			return nil
		}

		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return nil
			}
		}

		tcpConn, err := ln.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}

			select {
			case <-s.shutdown:
				return nil
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				s.initiateShutdown()
				return fmt.Errorf("listener closed unexpectedly: %w", err)
			}

			logger.Warn("Error accepting connection: %v", err)
			continue
		}

		if reaped := s.registry.Reap(); reaped > 0 {
			s.metrics.RecordWorkersReaped(reaped)
		}

		s.connCount.Add(1)
		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(s.connCount.Load())
		logger.Info("Accepted connection from %s", peerIP(tcpConn.RemoteAddr()))

		s.registry.Spawn(tcpConn, func(id uuid.UUID) {
			defer func() {
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(s.connCount.Load())
			}()

			NewSocketConnection(s, tcpConn, id).Serve(s.workerCtx)
		})
	}
}

// initiateShutdown signals the accept loop to stop. Safe to call multiple
// times and from multiple goroutines.
func (s *Adapter) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Socket adapter shutdown initiated")
		close(s.shutdown)
	})
}

// gracefulShutdown waits for every registered worker. With a positive
// ShutdownTimeout, workers still running afterwards have their sockets closed
// and are then joined as well, so no worker outlives Serve.
func (s *Adapter) gracefulShutdown() error {
	active := s.registry.Len()
	if s.config.ShutdownTimeout > 0 {
		logger.Info("Graceful shutdown: waiting for %d worker(s) (timeout: %v)", active, s.config.ShutdownTimeout)
	} else {
		logger.Info("Graceful shutdown: waiting for %d worker(s)", active)
	}

	ctx := context.Background()
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	if err := s.registry.Drain(ctx); err == nil {
		s.cancelWorkers()
		logger.Info("Graceful shutdown complete: all connections closed")
		return nil
	}

	remaining := s.registry.Len()
	logger.Warn("Shutdown timeout exceeded: %d worker(s) still active after %v, forcing closure",
		remaining, s.config.ShutdownTimeout)

	closed := s.registry.ForceClose()
	for i := 0; i < closed; i++ {
		s.metrics.RecordConnectionForceClosed()
	}
	s.cancelWorkers()

	// Closed sockets make every blocked read and write fail promptly.
	_ = s.registry.Drain(context.Background())
	logger.Info("Force-closed %d connection(s)", closed)

	return fmt.Errorf("%w: %d connection(s) force-closed", ErrDrainTimeout, closed)
}

// Stop initiates shutdown and waits until Serve has drained every worker or
// ctx is done. Safe to call multiple times, before or concurrently with Serve.
func (s *Adapter) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if !s.serving.Load() {
		return nil
	}

	select {
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		logger.Warn("Socket adapter stop interrupted: %d connection(s) still active: %v",
			s.connCount.Load(), ctx.Err())
		return ctx.Err()
	}
}

// logMetrics periodically logs the active connection count until ctx ends
// or shutdown starts.
func (s *Adapter) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("Socket metrics: active_connections=%d tracked_workers=%d",
				s.connCount.Load(), s.registry.Len())
		}
	}
}

// GetActiveConnections returns the number of connections being served.
func (s *Adapter) GetActiveConnections() int32 {
	return s.connCount.Load()
}

// TrackedWorkers returns the number of workers not yet reaped.
func (s *Adapter) TrackedWorkers() int {
	return s.registry.Len()
}

// Port returns the configured TCP port.
func (s *Adapter) Port() int {
	return s.config.Port
}

// Protocol returns the adapter name for logging.
func (s *Adapter) Protocol() string {
	return "socket"
}
