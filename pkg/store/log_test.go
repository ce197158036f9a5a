package store_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittolog/pkg/store"
	"github.com/marmos91/dittolog/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortWriter accepts at most limit bytes per call without reporting an error.
type shortWriter struct {
	limit int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > w.limit {
		return w.limit, nil
	}
	return len(p), nil
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

type recordingMetrics struct {
	mu      sync.Mutex
	appends map[string]int
	echoed  int64
	size    int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{appends: make(map[string]int)}
}

func (m *recordingMetrics) RecordAppend(source string, bytes int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.appends[source] += bytes
	}
}

func (m *recordingMetrics) RecordEcho(bytes int64, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echoed += bytes
}

func (m *recordingMetrics) RecordLockWait(time.Duration) {}

func (m *recordingMetrics) SetSize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
}

func TestAppendAndEcho_HalvesRefusedAllocation(t *testing.T) {
	var requests []int64
	alloc := func(n int64) ([]byte, error) {
		requests = append(requests, n)
		if n > 4 {
			return nil, store.ErrAllocation
		}
		return make([]byte, n), nil
	}

	log := store.NewLog(memory.New(), store.WithAllocator(alloc))
	defer func() { _ = log.Close() }()

	var out bytes.Buffer
	n, err := log.AppendAndEcho(context.Background(), []byte("0123456789abcdef\n"), &out)
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)
	assert.Equal(t, "0123456789abcdef\n", out.String())
	assert.Equal(t, []int64{17, 8, 4}, requests)
}

func TestAppendAndEcho_ResourceExhausted(t *testing.T) {
	refuse := func(int64) ([]byte, error) { return nil, store.ErrAllocation }

	log := store.NewLog(memory.New(), store.WithAllocator(refuse))
	defer func() { _ = log.Close() }()

	var out bytes.Buffer
	_, err := log.AppendAndEcho(context.Background(), []byte("hello\n"), &out)
	assert.ErrorIs(t, err, store.ErrResourceExhausted)
	assert.Empty(t, out.Bytes())

	// The packet is stored even when it could not be echoed.
	snap, err := log.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(snap))
}

func TestAppendAndEcho_ShortWrite(t *testing.T) {
	log := store.NewLog(memory.New())
	defer func() { _ = log.Close() }()

	sent, err := log.AppendAndEcho(context.Background(), []byte("hello\n"), &shortWriter{limit: 2})
	assert.ErrorIs(t, err, store.ErrShortWrite)
	assert.Equal(t, int64(2), sent)
}

func TestAppendAndEcho_WriteError(t *testing.T) {
	log := store.NewLog(memory.New())
	defer func() { _ = log.Close() }()

	_, err := log.AppendAndEcho(context.Background(), []byte("hello\n"), failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
}

func TestAppendAndEcho_AfterClose(t *testing.T) {
	log := store.NewLog(memory.New())
	require.NoError(t, log.Close())

	_, err := log.AppendAndEcho(context.Background(), []byte("x\n"), io.Discard)
	assert.ErrorIs(t, err, store.ErrClosed)

	err = log.Append(context.Background(), store.SourceTimestamp, []byte("x\n"))
	assert.ErrorIs(t, err, store.ErrClosed)
}

// Every echo must end with the caller's own packet and contain only whole
// packets, no matter how many writers race.
func TestAppendAndEcho_ConcurrentEchoesAreConsistent(t *testing.T) {
	log := store.NewLog(memory.New())
	defer func() { _ = log.Close() }()

	const writers = 16
	const perWriter = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				packet := []byte(fmt.Sprintf("writer-%02d-packet-%03d\n", w, i))
				var out bytes.Buffer
				if _, err := log.AppendAndEcho(context.Background(), packet, &out); err != nil {
					errs <- err
					return
				}
				if !bytes.HasSuffix(out.Bytes(), packet) {
					errs <- fmt.Errorf("echo for %q does not end with it", packet)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	snap, err := log.Snapshot(context.Background())
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSuffix(snap, []byte("\n")), []byte("\n"))
	assert.Len(t, lines, writers*perWriter)
	for _, line := range lines {
		assert.Len(t, line, len("writer-00-packet-000"))
	}
}

func TestLog_Metrics(t *testing.T) {
	m := newRecordingMetrics()
	log := store.NewLog(memory.New(), store.WithMetrics(m))
	defer func() { _ = log.Close() }()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, store.SourceTimestamp, []byte("timestamp:x\n")))
	_, err := log.AppendAndEcho(ctx, []byte("abc\n"), io.Discard)
	require.NoError(t, err)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, 12, m.appends[store.SourceTimestamp])
	assert.Equal(t, 4, m.appends[store.SourceClient])
	assert.Equal(t, int64(16), m.echoed)
	assert.Equal(t, int64(16), m.size)
}

func TestLog_DestroyRemovesContent(t *testing.T) {
	backend := memory.New()
	log := store.NewLog(backend)

	require.NoError(t, log.Append(context.Background(), store.SourceClient, []byte("a\n")))
	require.NoError(t, log.Destroy())

	_, err := log.Size(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.NoError(t, log.Close(), "Close after Destroy must be a no-op")
}

func TestBoundedAllocator(t *testing.T) {
	alloc := store.BoundedAllocator(8)

	buf, err := alloc(8)
	require.NoError(t, err)
	assert.Len(t, buf, 8)

	_, err = alloc(9)
	assert.ErrorIs(t, err, store.ErrAllocation)

	_, err = alloc(0)
	assert.ErrorIs(t, err, store.ErrAllocation)
}
