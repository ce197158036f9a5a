// Package file implements the store backend as a single regular file.
//
// The file is created (or truncated) on open with owner-only permissions and
// opened in append mode, so every Append lands at the current end of file.
// Reads use pread and never move the append offset.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/dittolog/pkg/store"
)

// DefaultPath is the store location used when none is configured.
const DefaultPath = "/var/tmp/aesdsocketdata"

// Config holds file backend options.
type Config struct {
	// Path is the store file. Parent directories are created as needed.
	Path string `mapstructure:"path" validate:"required"`

	// Fsync flushes the file to stable storage after every append.
	Fsync bool `mapstructure:"fsync"`
}

// storeFile is the part of *os.File the backend uses.
type storeFile interface {
	io.Writer
	io.ReaderAt
	io.Closer
	Truncate(size int64) error
	Sync() error
}

// FileStore is a store.Backend backed by one file.
type FileStore struct {
	mu    sync.Mutex
	path  string
	f     storeFile
	size  int64
	fsync bool
}

var _ store.Backend = (*FileStore)(nil)

// New opens cfg.Path for append, truncating any previous content.
func New(ctx context.Context, cfg Config) (*FileStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open store file %s: %w", path, err)
	}

	return &FileStore{
		path:  path,
		f:     f,
		fsync: cfg.Fsync,
	}, nil
}

// Path returns the store file location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Kind() string {
	return "file"
}

func (s *FileStore) Append(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return store.ErrClosed
	}

	n, err := s.f.Write(p)
	if err == nil && n != len(p) {
		err = store.ErrShortWrite
	}
	if err != nil {
		// A torn packet must never become visible to readers.
		if n > 0 {
			if terr := s.f.Truncate(s.size); terr != nil {
				return fmt.Errorf("write %s: %w (rollback failed: %v)", s.path, err, terr)
			}
		}
		if errors.Is(err, store.ErrShortWrite) {
			return err
		}
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.size += int64(n)

	if s.fsync {
		if err := s.f.Sync(); err != nil {
			return fmt.Errorf("fsync %s: %w", s.path, err)
		}
	}
	return nil
}

func (s *FileStore) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return 0, store.ErrClosed
	}
	return s.size, nil
}

func (s *FileStore) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return 0, store.ErrClosed
	}
	if off >= s.size {
		return 0, io.EOF
	}
	return s.f.ReadAt(p, off)
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// Remove deletes the store file. A missing file is not an error.
func (s *FileStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
