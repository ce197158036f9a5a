// Package memory implements an in-process store backend.
//
// Content lives in a byte slice and disappears with the process. Useful for
// tests and for deployments that only need the live echo behaviour.
package memory

import (
	"context"
	"io"
	"sync"

	"github.com/marmos91/dittolog/pkg/store"
)

// MemoryStore is a store.Backend backed by a growable byte slice.
type MemoryStore struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

var _ store.Backend = (*MemoryStore)(nil)

// New returns an empty MemoryStore.
func New() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Kind() string {
	return "memory"
}

func (s *MemoryStore) Append(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.data = append(s.data, p...)
	return nil
}

func (s *MemoryStore) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	return int64(len(s.data)), nil
}

func (s *MemoryStore) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	if off < 0 || off >= int64(len(s.data)) {
		return 0, io.EOF
	}

	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}
