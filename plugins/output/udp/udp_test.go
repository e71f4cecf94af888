package udp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/codec"
)

func batch(n int) []core.Packet {
	pkts := make([]core.Packet, n)
	for i := range pkts {
		pkts[i] = core.NullPacket
		pkts[i][4] = byte(i)
	}
	return pkts
}

func listen(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 65536)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestUDPOutput_Datagrams(t *testing.T) {
	rx := listen(t)
	out := New()
	require.NoError(t, out.Init(map[string]any{"address": rx.LocalAddr().String()}))
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(context.Background())

	pkts := batch(10)
	require.NoError(t, out.Send(context.Background(), pkts))

	assert.Equal(t, core.PacketsToBytes(pkts[:7]), readDatagram(t, rx))
	assert.Equal(t, core.PacketsToBytes(pkts[7:]), readDatagram(t, rx))
}

func TestUDPOutput_RTP(t *testing.T) {
	rx := listen(t)
	out := New()
	require.NoError(t, out.Init(map[string]any{
		"address":              rx.LocalAddr().String(),
		"packets_per_datagram": 2,
		"rtp":                  true,
		"ttl":                  8,
	}))
	require.NoError(t, out.Start(context.Background()))
	defer out.Stop(context.Background())

	pkts := batch(4)
	require.NoError(t, out.Send(context.Background(), pkts))

	first := readDatagram(t, rx)
	second := readDatagram(t, rx)
	assert.Equal(t, []byte{0, 0}, first[2:4])
	assert.Equal(t, []byte{0, 1}, second[2:4], "sequence number increments per datagram")

	payload, ok := codec.StripRTP(second)
	require.True(t, ok)
	assert.Equal(t, core.PacketsToBytes(pkts[2:]), payload)
}

func TestUDPOutput_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"address": "239.1.1.1:1234", "ttl": 16}, false},
		{"missing address", map[string]any{}, true},
		{"zero packets", map[string]any{"address": "127.0.0.1:1", "packets_per_datagram": 0}, true},
		{"too many packets", map[string]any{"address": "127.0.0.1:1", "packets_per_datagram": 500}, true},
		{"bad ttl", map[string]any{"address": "127.0.0.1:1", "ttl": 300}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Init(tt.config)
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrPluginInitFailed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUDPOutput_NotStarted(t *testing.T) {
	out := New()
	require.NoError(t, out.Init(map[string]any{"address": "127.0.0.1:1"}))
	assert.ErrorIs(t, out.Send(context.Background(), batch(1)), core.ErrPluginNotStarted)
}
