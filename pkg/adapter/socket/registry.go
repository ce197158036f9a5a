package socket

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/marmos91/dittolog/internal/logger"
)

// worker is the registry's handle on one connection goroutine.
type worker struct {
	id   uuid.UUID
	conn net.Conn
	peer string

	// done is set once, at the goroutine's single exit point. After that the
	// goroutine no longer touches the store or the socket.
	done atomic.Bool

	// exited is closed right after done is set, when the goroutine returns.
	exited chan struct{}
}

// Registry tracks every spawned connection worker until it is reaped.
//
// Spawn, Reap, Drain and ForceClose are called only from the accept loop
// goroutine, so the map needs no lock. Workers communicate with the registry
// exclusively through their done flag and exited channel.
type Registry struct {
	workers map[uuid.UUID]*worker
	size    atomic.Int32
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[uuid.UUID]*worker)}
}

// Spawn registers conn and runs fn on a new goroutine. The worker is marked
// done when fn returns, including by panic.
func (r *Registry) Spawn(conn net.Conn, fn func(id uuid.UUID)) uuid.UUID {
	w := &worker{
		id:     uuid.New(),
		conn:   conn,
		peer:   conn.RemoteAddr().String(),
		exited: make(chan struct{}),
	}
	r.workers[w.id] = w
	r.size.Store(int32(len(r.workers)))

	go func() {
		defer close(w.exited)
		defer w.done.Store(true)
		fn(w.id)
	}()

	return w.id
}

// Reap joins and removes every worker whose done flag is set. It never waits
// for a worker that is still running. Returns the number of workers reaped.
func (r *Registry) Reap() int {
	reaped := 0
	for id, w := range r.workers {
		if !w.done.Load() {
			continue
		}
		<-w.exited
		delete(r.workers, id)
		reaped++
	}
	if reaped > 0 {
		r.size.Store(int32(len(r.workers)))
		logger.Debug("Reaped %d finished worker(s), %d still running", reaped, len(r.workers))
	}
	return reaped
}

// Drain blocks until every registered worker has exited, then empties the
// registry. If ctx ends first it returns ctx.Err() and leaves the remaining
// workers registered.
func (r *Registry) Drain(ctx context.Context) error {
	for id, w := range r.workers {
		select {
		case <-w.exited:
			delete(r.workers, id)
			r.size.Store(int32(len(r.workers)))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ForceClose closes the socket of every worker still running so blocked reads
// and writes fail. Returns the number of sockets closed.
func (r *Registry) ForceClose() int {
	closed := 0
	for _, w := range r.workers {
		if w.done.Load() {
			continue
		}
		if err := w.conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", w.peer, err)
			continue
		}
		closed++
		logger.Debug("Force-closed connection to %s", w.peer)
	}
	return closed
}

// Len returns the number of registered workers, reaped ones excluded. Safe to
// call from any goroutine.
func (r *Registry) Len() int {
	return int(r.size.Load())
}
