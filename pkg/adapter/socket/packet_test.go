package socket

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader returns at most size bytes per Read.
type chunkedReader struct {
	data []byte
	size int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func drainPackets(t *testing.T, r io.Reader, chunk int) []string {
	t.Helper()

	pb := newPacketBuffer(chunk)
	var packets []string
	for {
		_, err := pb.fill(r)
		for pkt := pb.next(); pkt != nil; pkt = pb.next() {
			packets = append(packets, string(pkt))
			pb.consume(len(pkt))
		}
		if err == io.EOF {
			return packets
		}
		require.NoError(t, err)
	}
}

func TestPacketBuffer_FramingIndependentOfChunking(t *testing.T) {
	input := []byte("hello\nworld\n\nlonger packet with spaces\nx\n")
	want := []string{"hello\n", "world\n", "\n", "longer packet with spaces\n", "x\n"}

	for _, readSize := range []int{1, 2, 3, 5, 7, 64} {
		for _, chunk := range []int{1, 4, 4096} {
			got := drainPackets(t, &chunkedReader{data: input, size: readSize}, chunk)
			assert.Equal(t, want, got, "readSize=%d chunk=%d", readSize, chunk)
		}
	}
}

func TestPacketBuffer_NulTerminator(t *testing.T) {
	got := drainPackets(t, &chunkedReader{data: []byte("abc\x00def\n"), size: 100}, 16)
	assert.Equal(t, []string{"abc\n", "def\n"}, got)
}

func TestPacketBuffer_IncompleteTailIsKept(t *testing.T) {
	pb := newPacketBuffer(8)
	_, err := pb.fill(bytes.NewReader([]byte("one\ntwo")))
	require.NoError(t, err)

	pkt := pb.next()
	require.Equal(t, "one\n", string(pkt))
	pb.consume(len(pkt))

	assert.Nil(t, pb.next())
	assert.Equal(t, 3, pb.pending())
}

func TestPacketBuffer_GrowsAndShrinks(t *testing.T) {
	const chunk = 4
	big := append(bytes.Repeat([]byte("a"), chunk*retainChunks*2), '\n')

	pb := newPacketBuffer(chunk)
	r := &chunkedReader{data: big, size: 3}

	var pkt []byte
	for pkt == nil {
		_, err := pb.fill(r)
		require.NoError(t, err)
		pkt = pb.next()
	}
	assert.Equal(t, big, pkt)
	assert.Greater(t, cap(pb.buf), chunk*retainChunks)

	pb.consume(len(pkt))
	assert.Equal(t, chunk, cap(pb.buf))
	assert.Equal(t, 0, pb.pending())
}
