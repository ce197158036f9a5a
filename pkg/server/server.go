// Package server drives the process lifecycle: instance lock, socket setup,
// optional detach, store creation, the timestamp ticker, serving and teardown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/adapter/socket"
	"github.com/marmos91/dittolog/pkg/config"
	"github.com/marmos91/dittolog/pkg/listener"
	"github.com/marmos91/dittolog/pkg/store"
	"github.com/marmos91/dittolog/pkg/ticker"
	"golang.org/x/sync/errgroup"
)

// errStopped reports that shutdown was requested before serving started.
var errStopped = errors.New("shutdown requested during setup")

// Server owns every process-wide resource.
//
// Lifecycle:
//  1. INIT: take the instance lock
//  2. SOCKET_CREATED: bind (or adopt an inherited socket), retrying
//     transient failures; detach here when requested
//  3. LISTENING: create the store, arm the ticker, start listening
//  4. SERVING: run the socket adapter and the metrics server
//  5. SHUTTING_DOWN: drain workers, stop the ticker, destroy the store and
//     release the lock
//
// Teardown failures are logged and never change the result of Run.
type Server struct {
	cfg *config.Config

	state atomic.Int32

	mu   sync.RWMutex
	addr net.Addr

	serving chan struct{}

	detach  Detacher
	inherit func() (*listener.Socket, bool, error)
}

// Option configures a Server.
type Option func(s *Server)

// WithDetacher replaces the re-exec based detach step.
func WithDetacher(d Detacher) Option {
	return func(s *Server) {
		if d != nil {
			s.detach = d
		}
	}
}

// New creates a server for cfg. cfg must have been validated.
func New(cfg *config.Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		serving: make(chan struct{}),
		detach:  Detach,
		inherit: listener.Inherited,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) setState(state State) {
	s.state.Store(int32(state))
	logger.Debug("Server state: %s", state)
}

// Addr returns the listening address, or nil before LISTENING.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Serving is closed once the accept loop runs.
func (s *Server) Serving() <-chan struct{} {
	return s.serving
}

// Run executes the whole lifecycle and blocks until ctx is cancelled and the
// drain completed, or until an unrecoverable error occurs.
//
// When the server detaches, Run returns nil in the parent as soon as the
// child has been started. A ctx cancelled during setup is a clean stop and
// also returns nil.
func (s *Server) Run(ctx context.Context) error {
	s.setState(StateInit)

	lock, err := s.acquireLock()
	if err != nil {
		return err
	}

	sock, err := s.setupSocket(ctx)
	if err == nil && ctx.Err() != nil {
		_ = sock.Close()
		err = errStopped
	}
	if err != nil {
		s.releaseLock(lock)
		return stoppedIsClean(err)
	}
	s.setState(StateSocketCreated)

	if s.cfg.Server.Daemonize && !sock.IsInherited() {
		if err := s.detach(sock, lock); err != nil {
			_ = sock.Close()
			s.releaseLock(lock)
			return fmt.Errorf("failed to detach: %w", err)
		}

		// The child owns the socket and the lock from now on.
		_ = sock.Close()
		if lock != nil {
			_ = lock.Close()
		}
		return nil
	}

	err = s.serve(ctx, sock)
	s.releaseLock(lock)
	return stoppedIsClean(err)
}

func stoppedIsClean(err error) error {
	if errors.Is(err, errStopped) {
		logger.Info("Setup interrupted by shutdown, exiting")
		return nil
	}
	return err
}

func (s *Server) acquireLock() (*InstanceLock, error) {
	path := s.cfg.Server.LockFile
	if path == "" {
		return nil, nil
	}

	lock, inherited, err := InheritedLock(path)
	if err != nil {
		return nil, err
	}
	if inherited {
		logger.Debug("Adopted instance lock %s", path)
		return lock, nil
	}

	lock, err = AcquireLock(path)
	if err != nil {
		logger.Error("Failed to acquire instance lock: %v", err)
		return nil, err
	}
	logger.Debug("Acquired instance lock %s", path)
	return lock, nil
}

func (s *Server) releaseLock(lock *InstanceLock) {
	if lock == nil {
		return
	}
	if err := lock.Release(); err != nil {
		logger.Warn("Failed to release instance lock %s: %v", lock.Path(), err)
	}
}

// setupSocket adopts an inherited socket or binds a new one. Bind failures
// are retried with exponential backoff. Resolution failures are permanent.
func (s *Server) setupSocket(ctx context.Context) (*listener.Socket, error) {
	sock, inherited, err := s.inherit()
	if err != nil {
		logger.Error("Socket setup failed: %v", err)
		return nil, err
	}
	if inherited {
		logger.Info("Adopted inherited socket bound to %s", sock.Addr())
		return sock, nil
	}

	sc := s.cfg.Adapters.Socket
	setup := s.cfg.Server.Setup

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = setup.RetryDelay
	expBackoff.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(setup.Retries)), ctx)

	op := func() error {
		var err error
		sock, err = listener.Bind(sc.Host, sc.Port)
		if err == nil {
			return nil
		}

		var setupErr *listener.SetupError
		if errors.As(err, &setupErr) && !setupErr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("Socket setup failed: %v (retrying in %v)", err, next)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		var setupErr *listener.SetupError
		permanent := errors.As(err, &setupErr) && !setupErr.Retryable()
		if ctx.Err() != nil && !permanent {
			return nil, errStopped
		}
		logger.Error("Socket setup failed: %v", err)
		return nil, err
	}

	logger.Debug("Socket bound to %s", sock.Addr())
	return sock, nil
}

// serve runs everything after the detach decision.
func (s *Server) serve(ctx context.Context, sock *listener.Socket) error {
	if ctx.Err() != nil {
		_ = sock.Close()
		return errStopped
	}

	mr := config.InitializeMetrics(s.cfg)

	log, err := config.CreateStore(ctx, &s.cfg.Store, mr.StoreMetrics)
	if err != nil {
		_ = sock.Close()
		if ctx.Err() != nil {
			return errStopped
		}
		logger.Error("Failed to create %s store: %v", s.cfg.Store.Type, err)
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer destroyStore(log)

	// The ticker is stopped only after the drain, so it has its own context.
	tickerCtx, stopTicker := context.WithCancel(context.Background())
	tickerDone := make(chan struct{})
	if s.cfg.Ticker.Enabled {
		go func() {
			defer close(tickerDone)
			ticker.New(s.cfg.Ticker, log).Run(tickerCtx)
		}()
	} else {
		close(tickerDone)
	}
	defer func() {
		stopTicker()
		<-tickerDone
	}()

	ln, err := sock.Listen(s.cfg.Adapters.Socket.Backlog)
	if err != nil {
		_ = sock.Close()
		logger.Error("Socket setup failed: %v", err)
		return err
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.setState(StateListening)

	adp := config.CreateAdapter(s.cfg, log, mr.SocketMetrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return adp.Serve(gctx, ln)
	})
	if mr.Server != nil {
		g.Go(func() error {
			return mr.Server.Start(gctx)
		})
	}

	s.setState(StateServing)
	close(s.serving)
	logger.Info("Serving %s store on %s", log.Kind(), ln.Addr())

	go func() {
		<-gctx.Done()
		s.setState(StateShuttingDown)
	}()

	err = g.Wait()
	s.setState(StateShuttingDown)

	if errors.Is(err, socket.ErrDrainTimeout) && ctx.Err() != nil {
		logger.Warn("Shutdown completed with forced closures: %v", err)
		err = nil
	}
	if err != nil {
		logger.Error("Server stopped with error: %v", err)
	}
	return err
}

// destroyStore closes the store and deletes its persisted state.
func destroyStore(log *store.Log) {
	if err := log.Destroy(); err != nil {
		logger.Warn("Failed to remove %s store: %v", log.Kind(), err)
		return
	}
	logger.Debug("Removed %s store", log.Kind())
}
