// Package testing provides a conformance suite for store.Backend
// implementations.
package testing

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/marmos91/dittolog/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite tests the Backend contract, not implementation details, so
// every backend (file, memory, badger) runs the same cases.
//
// Usage:
//
//	func TestMyBackend(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewBackend: func(t *testing.T) store.Backend {
//	            return mybackend.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewBackend returns a fresh, empty backend for each test.
	NewBackend func(t *testing.T) store.Backend
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("Backend", suite.RunBackendTests)
	t.Run("Log", suite.RunLogTests)
}

// RunBackendTests checks the raw Backend operations.
func (suite *StoreTestSuite) RunBackendTests(t *testing.T) {
	t.Run("Empty", suite.testEmpty)
	t.Run("AppendAndSize", suite.testAppendAndSize)
	t.Run("ReadAt_AcrossAppends", suite.testReadAtAcrossAppends)
	t.Run("ReadAt_PastEnd", suite.testReadAtPastEnd)
	t.Run("Closed", suite.testClosed)
	t.Run("Remove", suite.testRemove)
}

// RunLogTests runs the Log operations on top of the backend.
func (suite *StoreTestSuite) RunLogTests(t *testing.T) {
	t.Run("AppendAndEcho", suite.testAppendAndEcho)
	t.Run("AppendAndEcho_Chunked", suite.testAppendAndEchoChunked)
	t.Run("Snapshot", suite.testSnapshot)
}

func testContext() context.Context {
	return context.Background()
}

// ============================================================================
// Backend Tests
// ============================================================================

func (suite *StoreTestSuite) testEmpty(t *testing.T) {
	b := suite.NewBackend(t)
	defer func() { _ = b.Close() }()

	size, err := b.Size(testContext())
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	n, err := b.ReadAt(testContext(), make([]byte, 4), 0)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *StoreTestSuite) testAppendAndSize(t *testing.T) {
	b := suite.NewBackend(t)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Append(testContext(), []byte("hello\n")))
	require.NoError(t, b.Append(testContext(), []byte("world\n")))

	size, err := b.Size(testContext())
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)
}

func (suite *StoreTestSuite) testReadAtAcrossAppends(t *testing.T) {
	b := suite.NewBackend(t)
	defer func() { _ = b.Close() }()

	parts := []string{"ab", "cdef", "g", "hijkl\n"}
	for _, p := range parts {
		require.NoError(t, b.Append(testContext(), []byte(p)))
	}

	buf := make([]byte, 5)
	n, err := b.ReadAt(testContext(), buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "bcdef", string(buf))

	buf = make([]byte, 4)
	n, err = b.ReadAt(testContext(), buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "ghij", string(buf[:n]))
}

func (suite *StoreTestSuite) testReadAtPastEnd(t *testing.T) {
	b := suite.NewBackend(t)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Append(testContext(), []byte("abc")))

	buf := make([]byte, 8)
	n, err := b.ReadAt(testContext(), buf, 1)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "bc", string(buf[:n]))

	n, err = b.ReadAt(testContext(), buf, 3)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func (suite *StoreTestSuite) testClosed(t *testing.T) {
	b := suite.NewBackend(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close(), "Close must be idempotent")

	err := b.Append(testContext(), []byte("x"))
	assert.ErrorIs(t, err, store.ErrClosed)

	_, err = b.Size(testContext())
	assert.ErrorIs(t, err, store.ErrClosed)
}

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	b := suite.NewBackend(t)
	require.NoError(t, b.Append(testContext(), []byte("x")))
	require.NoError(t, b.Close())
	assert.NoError(t, b.Remove())
	assert.NoError(t, b.Remove(), "Remove of missing state must succeed")
}

// ============================================================================
// Log Tests
// ============================================================================

func (suite *StoreTestSuite) testAppendAndEcho(t *testing.T) {
	log := store.NewLog(suite.NewBackend(t))
	defer func() { _ = log.Close() }()

	var out bytes.Buffer
	n, err := log.AppendAndEcho(testContext(), []byte("hello\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
	assert.Equal(t, "hello\n", out.String())

	out.Reset()
	_, err = log.AppendAndEcho(testContext(), []byte("world\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", out.String())
}

func (suite *StoreTestSuite) testAppendAndEchoChunked(t *testing.T) {
	log := store.NewLog(suite.NewBackend(t), store.WithMaxEchoBuffer(7))
	defer func() { _ = log.Close() }()

	payload := bytes.Repeat([]byte("0123456789"), 10)
	payload = append(payload, '\n')

	var out bytes.Buffer
	n, err := log.AppendAndEcho(testContext(), payload, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, out.Bytes())
}

func (suite *StoreTestSuite) testSnapshot(t *testing.T) {
	log := store.NewLog(suite.NewBackend(t))

	require.NoError(t, log.Append(testContext(), store.SourceTimestamp, []byte("timestamp:now\n")))
	_, err := log.AppendAndEcho(testContext(), []byte("a\n"), io.Discard)
	require.NoError(t, err)

	snap, err := log.Snapshot(testContext())
	require.NoError(t, err)
	assert.Equal(t, "timestamp:now\na\n", string(snap))

	require.NoError(t, log.Close())
	_, err = log.Snapshot(testContext())
	assert.True(t, errors.Is(err, store.ErrClosed))
}
