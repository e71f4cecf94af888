// Package codec turns byte streams and datagrams into transport stream packets.
package codec

import (
	"bytes"

	"firestige.xyz/tsswitch/internal/core"
)

// Splitter accumulates raw bytes and cuts them into 188-byte packets. When
// the stream loses alignment it skips forward to the next sync byte that is
// confirmed by a second one a packet length later, when enough data is buffered
// to check.
//
// Splitter is not safe for concurrent use.
type Splitter struct {
	buf     []byte
	off     int
	skipped uint64
}

// Write appends data to the pending bytes.
func (s *Splitter) Write(data []byte) {
	if s.off > 0 {
		n := copy(s.buf, s.buf[s.off:])
		s.buf = s.buf[:n]
		s.off = 0
	}
	s.buf = append(s.buf, data...)
}

// Read copies complete packets into pkts and returns how many were copied.
// Bytes that do not yet form a packet stay pending.
func (s *Splitter) Read(pkts []core.Packet) int {
	n := 0
	for n < len(pkts) {
		data := s.buf[s.off:]
		if len(data) < core.PacketSize {
			break
		}
		if data[0] != core.SyncByte {
			skip := resync(data)
			s.skipped += uint64(skip)
			s.off += skip
			continue
		}
		copy(pkts[n][:], data[:core.PacketSize])
		s.off += core.PacketSize
		n++
	}
	if s.off == len(s.buf) {
		s.buf = s.buf[:0]
		s.off = 0
	}
	return n
}

// Buffered returns the number of complete packets ready to be read.
func (s *Splitter) Buffered() int {
	return (len(s.buf) - s.off) / core.PacketSize
}

// Pending returns the number of bytes not yet returned by Read.
func (s *Splitter) Pending() int {
	return len(s.buf) - s.off
}

// Skipped returns the number of bytes discarded while resynchronising.
func (s *Splitter) Skipped() uint64 {
	return s.skipped
}

// Reset discards every pending byte.
func (s *Splitter) Reset() {
	s.buf = s.buf[:0]
	s.off = 0
}

// resync returns how many leading bytes of data to discard so that it starts
// on a plausible packet boundary.
func resync(data []byte) int {
	from := 1
	for {
		i := bytes.IndexByte(data[from:], core.SyncByte)
		if i < 0 {
			return len(data)
		}
		at := from + i
		next := at + core.PacketSize
		if next >= len(data) || data[next] == core.SyncByte {
			return at
		}
		from = at + 1
	}
}
