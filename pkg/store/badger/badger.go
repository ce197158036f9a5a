// Package badger implements a store backend on top of BadgerDB.
//
// Every append becomes one record keyed by a monotonically increasing
// sequence number. An in-memory index of record start offsets maps byte
// offsets back to records, so ReadAt only touches the records it needs.
//
// Key schema:
//
//	rec/<seq:8 bytes big-endian>  ->  appended bytes
//
// The database is emptied on open: the log always starts fresh.
package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittolog/pkg/store"
)

const recordPrefix = "rec/"

// Config holds BadgerDB backend options.
type Config struct {
	// Path is the database directory.
	Path string `mapstructure:"path" validate:"required_unless=InMemory true"`

	// SyncWrites makes every append durable before it returns.
	SyncWrites bool `mapstructure:"sync_writes"`

	// InMemory keeps the database entirely in RAM. Path is ignored.
	InMemory bool `mapstructure:"in_memory"`
}

// BadgerStore is a store.Backend backed by BadgerDB.
type BadgerStore struct {
	mu   sync.RWMutex
	db   *badger.DB
	path string

	// starts[i] is the byte offset at which record i begins.
	starts []int64
	size   int64
}

var _ store.Backend = (*BadgerStore)(nil)

// New opens (or creates) the database at cfg.Path and drops any previous
// content.
func New(ctx context.Context, cfg Config) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	if err := db.DropAll(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reset BadgerDB at %s: %w", cfg.Path, err)
	}

	path := cfg.Path
	if cfg.InMemory {
		path = ""
	}

	return &BadgerStore{db: db, path: path}, nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], seq)
	return key
}

func (s *BadgerStore) Kind() string {
	return "badger"
}

func (s *BadgerStore) Append(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return store.ErrClosed
	}

	// Badger keeps a reference to the value until the transaction commits.
	value := make([]byte, len(p))
	copy(value, p)

	seq := uint64(len(s.starts))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(seq), value)
	})
	if err != nil {
		return fmt.Errorf("failed to store record %d: %w", seq, err)
	}

	s.starts = append(s.starts, s.size)
	s.size += int64(len(p))
	return nil
}

func (s *BadgerStore) Size(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return 0, store.ErrClosed
	}
	return s.size, nil
}

func (s *BadgerStore) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return 0, store.ErrClosed
	}
	if off < 0 || off >= s.size {
		return 0, io.EOF
	}

	// First record whose end lies beyond off.
	first := sort.Search(len(s.starts), func(i int) bool {
		return s.recordEnd(i) > off
	})

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		for i := first; i < len(s.starts) && n < len(p); i++ {
			item, err := txn.Get(recordKey(uint64(i)))
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}

			skip := int64(0)
			if i == first {
				skip = off - s.starts[i]
			}

			err = item.Value(func(val []byte) error {
				n += copy(p[n:], val[skip:])
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return n, err
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *BadgerStore) recordEnd(i int) int64 {
	if i+1 < len(s.starts) {
		return s.starts[i+1]
	}
	return s.size
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Remove deletes the database directory.
func (s *BadgerStore) Remove() error {
	if s.path == "" {
		return nil
	}
	return os.RemoveAll(s.path)
}
