package socket

import (
	"bytes"
	"io"
)

// retainChunks bounds how much buffer capacity a worker keeps after flushing
// a large packet, in multiples of the chunk size.
const retainChunks = 16

// packetBuffer assembles newline-terminated packets from a byte stream.
//
// The buffer grows by one chunk whenever it is full, so a packet of any size
// can be accumulated. Bytes already searched for a terminator are not scanned
// again on the next read.
type packetBuffer struct {
	buf     []byte
	scanned int
	chunk   int
}

func newPacketBuffer(chunk int) *packetBuffer {
	return &packetBuffer{
		buf:   make([]byte, 0, chunk),
		chunk: chunk,
	}
}

// fill performs one Read from r into the free tail of the buffer, growing it
// by one chunk first if no space is left.
func (p *packetBuffer) fill(r io.Reader) (int, error) {
	if len(p.buf) == cap(p.buf) {
		grown := make([]byte, len(p.buf), len(p.buf)+p.chunk)
		copy(grown, p.buf)
		p.buf = grown
	}

	n, err := r.Read(p.buf[len(p.buf):cap(p.buf)])
	if n > 0 {
		p.buf = p.buf[:len(p.buf)+n]
	}
	return n, err
}

// next returns the oldest complete packet, terminator included, or nil if no
// terminator has arrived yet. A NUL terminator is rewritten to '\n'. The
// returned slice aliases the buffer and is valid until consume.
func (p *packetBuffer) next() []byte {
	idx := bytes.IndexAny(p.buf[p.scanned:], "\n\x00")
	if idx < 0 {
		p.scanned = len(p.buf)
		return nil
	}

	end := p.scanned + idx + 1
	if p.buf[end-1] == 0 {
		p.buf[end-1] = '\n'
	}
	return p.buf[:end]
}

// consume drops the first n bytes (a packet returned by next) and shrinks the
// buffer if a large packet left it oversized.
func (p *packetBuffer) consume(n int) {
	remaining := len(p.buf) - n

	limit := p.chunk * retainChunks
	if cap(p.buf) > limit && remaining < p.chunk {
		shrunk := make([]byte, remaining, p.chunk)
		copy(shrunk, p.buf[n:])
		p.buf = shrunk
	} else {
		copy(p.buf, p.buf[n:])
		p.buf = p.buf[:remaining]
	}
	p.scanned = 0
}

// pending returns the number of buffered bytes not yet part of a packet.
func (p *packetBuffer) pending() int {
	return len(p.buf)
}
