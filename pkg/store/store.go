// Package store implements the shared append-only log that every connection
// worker and the timestamp ticker write to.
//
// A Backend is the persisted byte sequence (a local file, a BadgerDB directory
// or memory). Log wraps exactly one Backend with the process-wide mutex and
// implements the append, append-then-echo and snapshot operations on top of it.
// Callers never touch a Backend directly once it is wrapped.
package store

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by every Log operation after Close or Destroy.
	ErrClosed = errors.New("store is closed")

	// ErrShortWrite is returned when a backend or a client socket accepts
	// fewer bytes than requested without reporting an error.
	ErrShortWrite = errors.New("short write")

	// ErrAllocation is returned by an Allocator that refuses a request. The
	// echo path halves the request and retries.
	ErrAllocation = errors.New("buffer allocation refused")

	// ErrResourceExhausted is returned when the echo buffer request was
	// halved down to zero bytes.
	ErrResourceExhausted = errors.New("no memory left for echo buffer")
)

// Backend is the persisted byte sequence behind a Log.
//
// Implementations must be safe for concurrent use, but Log already serializes
// every call, so a single internal mutex is sufficient.
type Backend interface {
	// Append writes p at the end of the sequence. The full slice is written or
	// an error is returned. p must not be retained after Append returns.
	Append(ctx context.Context, p []byte) error

	// Size returns the total number of bytes appended so far.
	Size(ctx context.Context) (int64, error)

	// ReadAt reads len(p) bytes starting at off, following io.ReaderAt
	// semantics: n < len(p) is only returned together with an error, io.EOF
	// at the end of the sequence.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	// Close releases open handles. The persisted state stays in place.
	Close() error

	// Remove deletes the persisted state. Called after Close.
	Remove() error

	// Kind returns the backend type for logging ("file", "memory", "badger").
	Kind() string
}
