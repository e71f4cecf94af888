package codec

import (
	"encoding/binary"

	"firestige.xyz/tsswitch/internal/core"
)

const (
	rtpVersion      = 2
	rtpHeaderLen    = 12
	rtpExtHeaderLen = 4
)

// StripRTP returns the transport stream payload of a datagram. Datagrams that
// already start with a sync byte are returned unchanged. A valid RTP header
// carrying CSRCs, an extension or padding is removed. ok is false when the
// datagram is neither raw transport stream nor well-formed RTP.
func StripRTP(datagram []byte) (payload []byte, ok bool) {
	if len(datagram) > 0 && datagram[0] == core.SyncByte {
		return datagram, true
	}
	if len(datagram) < rtpHeaderLen || datagram[0]>>6 != rtpVersion {
		return nil, false
	}

	padding := (datagram[0]>>5)&0x1 == 1
	hasExtension := (datagram[0]>>4)&0x1 == 1
	csrcCount := int(datagram[0] & 0x0F)

	off := rtpHeaderLen + 4*csrcCount
	if hasExtension {
		if len(datagram) < off+rtpExtHeaderLen {
			return nil, false
		}
		words := int(binary.BigEndian.Uint16(datagram[off+2:]))
		off += rtpExtHeaderLen + 4*words
	}
	end := len(datagram)
	if padding && end > off {
		end -= int(datagram[end-1])
	}
	if off > end {
		return nil, false
	}
	return datagram[off:end], true
}

// RTPPayloadMP2T is the static RTP payload type of MPEG-2 transport streams.
const RTPPayloadMP2T = 33

// AppendRTPHeader appends a 12-byte RTP header carrying an MP2T payload.
func AppendRTPHeader(dst []byte, seq uint16, timestamp, ssrc uint32) []byte {
	var h [rtpHeaderLen]byte
	h[0] = rtpVersion << 6
	h[1] = RTPPayloadMP2T
	binary.BigEndian.PutUint16(h[2:], seq)
	binary.BigEndian.PutUint32(h[4:], timestamp)
	binary.BigEndian.PutUint32(h[8:], ssrc)
	return append(dst, h[:]...)
}
