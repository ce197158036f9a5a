package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/marmos91/dittolog/internal/logger"
	"github.com/marmos91/dittolog/pkg/metrics"
)

const (
	// SourceClient tags appends coming from connection workers.
	SourceClient = "client"

	// SourceTimestamp tags appends coming from the timestamp ticker.
	SourceTimestamp = "timestamp"

	// DefaultMaxEchoBuffer caps the buffer used to stream the store back to a
	// client. Larger stores are echoed in several chunks.
	DefaultMaxEchoBuffer = 1 << 20
)

// Allocator returns a buffer of exactly n bytes or ErrAllocation.
type Allocator func(n int64) ([]byte, error)

// BoundedAllocator refuses any request above limit.
func BoundedAllocator(limit int64) Allocator {
	return func(n int64) ([]byte, error) {
		if n <= 0 || n > limit {
			return nil, ErrAllocation
		}
		return make([]byte, n), nil
	}
}

// Log is the single shared store: one Backend behind one mutex.
//
// Every append and every full-content read happens while holding mu. A
// worker's append, size query and echo run in one critical section, so the
// bytes a client receives are always the complete store content at the
// moment its own packet landed, ending with that packet.
type Log struct {
	mu      sync.Mutex
	backend Backend
	closed  bool

	alloc   Allocator
	metrics metrics.StoreMetrics
}

// Option configures a Log.
type Option func(l *Log)

// WithMetrics attaches a metrics collector. nil keeps the no-op collector.
func WithMetrics(m metrics.StoreMetrics) Option {
	return func(l *Log) {
		if m != nil {
			l.metrics = m
		}
	}
}

// WithMaxEchoBuffer caps echo buffers at limit bytes. Values <= 0 select
// DefaultMaxEchoBuffer.
func WithMaxEchoBuffer(limit int64) Option {
	return func(l *Log) {
		if limit <= 0 {
			limit = DefaultMaxEchoBuffer
		}
		l.alloc = BoundedAllocator(limit)
	}
}

// WithAllocator replaces the echo buffer allocator.
func WithAllocator(a Allocator) Option {
	return func(l *Log) {
		if a != nil {
			l.alloc = a
		}
	}
}

// NewLog wraps backend. The backend is expected to be empty.
func NewLog(backend Backend, opts ...Option) *Log {
	l := &Log{
		backend: backend,
		alloc:   BoundedAllocator(DefaultMaxEchoBuffer),
		metrics: metrics.NewNoopStoreMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Kind returns the backend type.
func (l *Log) Kind() string {
	return l.backend.Kind()
}

func (l *Log) lock() {
	start := time.Now()
	l.mu.Lock()
	l.metrics.RecordLockWait(time.Since(start))
}

// Append appends p under the store lock. Used by the timestamp ticker.
func (l *Log) Append(ctx context.Context, source string, p []byte) error {
	l.lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	err := l.backend.Append(ctx, p)
	l.metrics.RecordAppend(source, len(p), err)
	if err != nil {
		return fmt.Errorf("append %d bytes: %w", len(p), err)
	}

	l.updateSize(ctx)
	return nil
}

// AppendAndEcho appends packet and then writes the entire store content to w,
// all while holding the store lock.
//
// The echo buffer starts at the store size and is halved each time the
// allocator refuses it; reaching zero yields ErrResourceExhausted. Every write
// to w must transfer the whole chunk, otherwise ErrShortWrite is returned and
// nothing more is sent.
//
// Returns the number of bytes written to w.
func (l *Log) AppendAndEcho(ctx context.Context, packet []byte, w io.Writer) (int64, error) {
	l.lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}

	start := time.Now()

	err := l.backend.Append(ctx, packet)
	l.metrics.RecordAppend(SourceClient, len(packet), err)
	if err != nil {
		return 0, fmt.Errorf("append %d bytes: %w", len(packet), err)
	}

	size, err := l.backend.Size(ctx)
	if err != nil {
		return 0, fmt.Errorf("stat store: %w", err)
	}
	l.metrics.SetSize(size)

	if size == 0 {
		return 0, nil
	}

	buf, err := l.allocateEchoBuffer(size)
	if err != nil {
		return 0, err
	}

	sent, err := l.copyTo(ctx, w, buf, size)
	l.metrics.RecordEcho(sent, time.Since(start))
	return sent, err
}

// allocateEchoBuffer requests size bytes and halves the request on refusal.
func (l *Log) allocateEchoBuffer(size int64) ([]byte, error) {
	request := size
	for request > 0 {
		buf, err := l.alloc(request)
		if err == nil {
			return buf, nil
		}
		if !errors.Is(err, ErrAllocation) {
			return nil, fmt.Errorf("allocate %d byte echo buffer: %w", request, err)
		}
		logger.Debug("Echo buffer of %d bytes refused, retrying with %d", request, request>>1)
		request >>= 1
	}
	return nil, ErrResourceExhausted
}

// copyTo streams the first size bytes of the backend to w in len(buf) chunks.
// Must be called with mu held.
func (l *Log) copyTo(ctx context.Context, w io.Writer, buf []byte, size int64) (int64, error) {
	var sent int64
	for off := int64(0); off < size; {
		chunk := buf
		if remaining := size - off; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		n, err := l.backend.ReadAt(ctx, chunk, off)
		if n == 0 && err != nil {
			return sent, fmt.Errorf("read store at offset %d: %w", off, err)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return sent, fmt.Errorf("read store at offset %d: %w", off, err)
		}

		written, err := w.Write(chunk[:n])
		sent += int64(written)
		if err != nil {
			return sent, fmt.Errorf("send %d bytes: %w", n, err)
		}
		if written != n {
			return sent, fmt.Errorf("send %d bytes, %d accepted: %w", n, written, ErrShortWrite)
		}

		off += int64(n)
	}
	return sent, nil
}

// Snapshot returns a copy of the entire store content.
func (l *Log) Snapshot(ctx context.Context) ([]byte, error) {
	l.lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	size, err := l.backend.Size(ctx)
	if err != nil {
		return nil, fmt.Errorf("stat store: %w", err)
	}

	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}

	n, err := l.backend.ReadAt(ctx, out, 0)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == size) {
		return nil, fmt.Errorf("read store: %w", err)
	}
	return out[:n], nil
}

// Size returns the current store size.
func (l *Log) Size(ctx context.Context) (int64, error) {
	l.lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	return l.backend.Size(ctx)
}

func (l *Log) updateSize(ctx context.Context) {
	if size, err := l.backend.Size(ctx); err == nil {
		l.metrics.SetSize(size)
	}
}

// Close closes the backend and leaves its persisted state in place.
// Subsequent operations return ErrClosed. Safe to call multiple times.
func (l *Log) Close() error {
	l.lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.backend.Close(); err != nil {
		return fmt.Errorf("close %s store: %w", l.backend.Kind(), err)
	}
	return nil
}

// Destroy closes the backend and deletes its persisted state.
func (l *Log) Destroy() error {
	closeErr := l.Close()

	l.lock()
	defer l.mu.Unlock()

	if err := l.backend.Remove(); err != nil {
		return errors.Join(closeErr, fmt.Errorf("remove %s store: %w", l.backend.Kind(), err))
	}
	return closeErr
}
