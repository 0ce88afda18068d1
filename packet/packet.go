// Package packet implements the desync pipeline's wire-level value type and
// the socket read/write/split primitives it is built from.
package packet

import (
	"fmt"
	"net"
)

// Packet is an immutable view over size bytes of data starting at offset.
// dynamic distinguishes heap-owned buffers (read off the wire) from slices
// borrowed from a canned decoy payload.
type Packet struct {
	size    int
	data    []byte
	offset  int
	dynamic bool
}

// New wraps data[offset:offset+size] as a Packet. It panics if the slice
// would run past the end of data — the same invariant the desync pipeline
// relies on everywhere else.
func New(data []byte, offset, size int, dynamic bool) Packet {
	if offset+size > len(data) {
		panic(fmt.Sprintf("packet: offset+size out of range: %d+%d > %d", offset, size, len(data)))
	}
	return Packet{size: size, data: data, offset: offset, dynamic: dynamic}
}

// Bytes returns the packet's payload.
func (p Packet) Bytes() []byte {
	return p.data[p.offset : p.offset+p.size]
}

// Size returns the number of payload bytes.
func (p Packet) Size() int {
	return p.size
}

// Empty reports whether the packet carries zero payload bytes.
func (p Packet) Empty() bool {
	return p.size == 0
}

// Dynamic reports whether the packet's backing array was read off the wire
// (true) rather than borrowed from a canned decoy payload (false).
func (p Packet) Dynamic() bool {
	return p.dynamic
}

// InvalidPacketLengthError is returned when a caller asks for an out of
// range split or slice.
type InvalidPacketLengthError int

func (e InvalidPacketLengthError) Error() string {
	return fmt.Sprintf("packet: invalid packet length: %d", int(e))
}

// Split produces a zero-copy logical split of p at position. If position is
// at or past the end of the payload, second is empty and first is p
// unchanged (spec invariant: a SPLIT at pos>=size is observably a NONE).
// Negative positions are clamped to zero.
func Split(p Packet, position int) (first, second Packet) {
	if position < 0 {
		position = 0
	}
	if position >= p.size {
		return p, Packet{data: p.data, offset: p.offset + p.size, size: 0}
	}
	first = Packet{data: p.data, offset: p.offset, size: position}
	second = Packet{data: p.data, offset: p.offset + position, size: p.size - position}
	return first, second
}

// Handler reads and writes Packets on a stream socket and builds the canned
// decoy payloads used by FAKE mode.
type Handler struct {
	bufferSize int
}

// NewHandler constructs a Handler that reads up to bufferSize bytes per
// Read call.
func NewHandler(bufferSize int) *Handler {
	return &Handler{bufferSize: bufferSize}
}

// Read pulls up to h.bufferSize bytes from conn. It returns io.EOF-wrapping
// behavior identical to net.Conn.Read: a zero-length, nil-error read never
// happens on a real stream socket, so a read that returns (0, err) with
// err != nil is treated as EOF by callers.
func (h *Handler) Read(conn net.Conn) (Packet, error) {
	buf := make([]byte, h.bufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return Packet{}, err
	}
	return New(buf, 0, n, true), nil
}

// Write sends p.Bytes() as a single logical write. Callers that need
// Nagle disabled for desync purposes should call PrepareForDesync first.
func (h *Handler) Write(conn net.Conn, p Packet) error {
	if p.Empty() {
		return nil
	}
	b := p.Bytes()
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// PrepareForDesync disables Nagle's algorithm on conn for the duration of
// the desync phase, so that each emitted write reaches the wire as its own
// segment instead of being coalesced with the next one.
func PrepareForDesync(conn net.Conn) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tc.SetNoDelay(true)
}
