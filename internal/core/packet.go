// Package core defines core data structures with zero external dependencies.
package core

const (
	// PacketSize is the size in bytes of one MPEG transport stream packet.
	PacketSize = 188

	// SyncByte is the first byte of every transport stream packet.
	SyncByte = 0x47

	// NullPID is the PID of stuffing packets.
	NullPID = 0x1FFF
)

// Packet is one fixed-size transport stream packet, moved end-to-end unchanged.
type Packet [PacketSize]byte

// NullPacket is a stuffing packet: PID 0x1FFF, payload only, 0xFF filled.
var NullPacket = func() Packet {
	var p Packet
	p[0] = SyncByte
	p[1] = 0x1F
	p[2] = 0xFF
	p[3] = 0x10
	for i := 4; i < PacketSize; i++ {
		p[i] = 0xFF
	}
	return p
}()

// HasValidSync reports whether the packet starts with the sync byte.
func (p *Packet) HasValidSync() bool {
	return p[0] == SyncByte
}

// PID returns the 13-bit packet identifier.
func (p *Packet) PID() uint16 {
	return uint16(p[1]&0x1F)<<8 | uint16(p[2])
}

// ContinuityCounter returns the 4-bit continuity counter.
func (p *Packet) ContinuityCounter() uint8 {
	return p[3] & 0x0F
}

// SetContinuityCounter overwrites the 4-bit continuity counter.
func (p *Packet) SetContinuityCounter(cc uint8) {
	p[3] = p[3]&0xF0 | cc&0x0F
}

// PacketsToBytes returns the packets as one contiguous byte slice.
// The slice is a copy; callers may retain it.
func PacketsToBytes(pkts []Packet) []byte {
	buf := make([]byte, len(pkts)*PacketSize)
	for i := range pkts {
		copy(buf[i*PacketSize:], pkts[i][:])
	}
	return buf
}

// BytesToPackets copies whole packets from data into pkts and returns how many
// packets were copied. Trailing bytes that do not form a full packet are ignored.
func BytesToPackets(data []byte, pkts []Packet) int {
	n := len(data) / PacketSize
	if n > len(pkts) {
		n = len(pkts)
	}
	for i := 0; i < n; i++ {
		copy(pkts[i][:], data[i*PacketSize:(i+1)*PacketSize])
	}
	return n
}
