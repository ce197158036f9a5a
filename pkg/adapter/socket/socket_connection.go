package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/store"
	"golang.org/x/sys/unix"
)

// SocketConnection runs the packet protocol for one client.
//
// Bytes are accumulated until a terminator arrives. Each complete packet is
// appended to the store and the whole store content is written back, all
// inside one store critical section. The connection ends when the peer
// closes, on any read or write failure, or when the adapter force-closes the
// socket.
type SocketConnection struct {
	adapter *Adapter
	conn    net.Conn
	id      uuid.UUID
	peer    string
}

func NewSocketConnection(adapter *Adapter, conn net.Conn, id uuid.UUID) *SocketConnection {
	return &SocketConnection{
		adapter: adapter,
		conn:    conn,
		id:      id,
		peer:    peerIP(conn.RemoteAddr()),
	}
}

// Serve handles packets until the connection closes. It always releases the
// socket before returning, panics included.
func (c *SocketConnection) Serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in worker %s for %s: %v", c.id, c.peer, r)
			c.adapter.metrics.RecordWorkerError("panic")
		}
		_ = c.conn.Close()
		logger.Info("Closed connection from %s", c.peer)
	}()

	cfg := c.adapter.config
	packets := newPacketBuffer(cfg.ChunkSize)

	for {
		if cfg.IdleTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout)); err != nil {
				logger.Warn("Failed to set read deadline for %s: %v", c.peer, err)
			}
		}

		n, readErr := packets.fill(c.conn)

		if n > 0 {
			for pkt := packets.next(); pkt != nil; pkt = packets.next() {
				if err := c.flush(ctx, pkt); err != nil {
					c.logFlushError(err)
					return
				}
				packets.consume(len(pkt))
			}
		}

		if readErr == nil {
			continue
		}

		switch {
		case errors.Is(readErr, io.EOF):
			if pending := packets.pending(); pending > 0 {
				logger.Debug("Connection from %s closed with %d unterminated byte(s) discarded", c.peer, pending)
			}
			return
		case isTransient(readErr):
			continue
		case isTimeout(readErr):
			logger.Debug("Connection from %s idle for %v, closing", c.peer, cfg.IdleTimeout)
			return
		case errors.Is(readErr, net.ErrClosed):
			logger.Debug("Connection from %s closed during shutdown", c.peer)
			return
		default:
			logger.Warn("Read error from %s: %v", c.peer, readErr)
			c.adapter.metrics.RecordWorkerError("read")
			return
		}
	}
}

// flush appends one packet and echoes the full store back to the client.
func (c *SocketConnection) flush(ctx context.Context, pkt []byte) error {
	c.adapter.metrics.RecordPacket(len(pkt))

	w := io.Writer(c.conn)
	if timeout := c.adapter.config.WriteTimeout; timeout > 0 {
		w = &deadlineWriter{conn: c.conn, timeout: timeout}
	}

	sent, err := c.adapter.log.AppendAndEcho(ctx, pkt, w)
	if err != nil {
		return fmt.Errorf("packet of %d bytes (echoed %d): %w", len(pkt), sent, err)
	}

	logger.Debug("Echoed %d bytes to %s after %d byte packet", sent, c.peer, len(pkt))
	return nil
}

func (c *SocketConnection) logFlushError(err error) {
	switch {
	case errors.Is(err, store.ErrResourceExhausted):
		logger.Error("Out of memory echoing store to %s: %v", c.peer, err)
		c.adapter.metrics.RecordWorkerError("alloc")
	case errors.Is(err, store.ErrClosed):
		logger.Warn("Store closed while serving %s", c.peer)
		c.adapter.metrics.RecordWorkerError("append")
	case errors.Is(err, store.ErrShortWrite), isNetError(err):
		logger.Warn("Failed to echo store to %s: %v", c.peer, err)
		c.adapter.metrics.RecordWorkerError("echo")
	default:
		logger.Error("Failed to store packet from %s: %v", c.peer, err)
		c.adapter.metrics.RecordWorkerError("append")
	}
}

// deadlineWriter refreshes the write deadline before every chunk.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return 0, err
	}
	return w.conn.Write(p)
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func peerIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
