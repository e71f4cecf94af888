// Package pcap implements an input plugin replaying transport packets carried
// over UDP in a pcap or pcapng capture file.
package pcap

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/codec"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const pcapngMagic = 0x0A0D0D0A

// Config represents pcap input configuration.
type Config struct {
	Path            string `mapstructure:"path"`             // required
	DestinationPort uint16 `mapstructure:"destination_port"` // optional UDP destination port filter
	DestinationIP   string `mapstructure:"destination_ip"`   // optional destination address filter
	Realtime        bool   `mapstructure:"realtime"`         // replay at capture timing
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Input extracts packets from a capture file.
type Input struct {
	name   string
	config Config
	dstIP  net.IP

	file   *os.File
	source packetSource
	split  codec.Splitter

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	sll     layers.LinuxSLL
	ip4     layers.IPv4
	ip6     layers.IPv6
	udp     layers.UDP
	payload gopacket.Payload
	decoded []gopacket.LayerType

	firstCapture time.Time
	firstWall    time.Time

	frames   uint64
	matched  uint64
	filtered uint64
}

// New creates a new pcap input.
func New() plugin.Input {
	return &Input{name: "pcap"}
}

// Name returns the plugin name.
func (in *Input) Name() string { return in.name }

// Init parses the configuration.
func (in *Input) Init(config map[string]any) error {
	var cfg Config
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Path == "" {
		return fmt.Errorf("%w: pcap input: path is required", core.ErrPluginInitFailed)
	}
	if cfg.DestinationIP != "" {
		in.dstIP = net.ParseIP(cfg.DestinationIP)
		if in.dstIP == nil {
			return fmt.Errorf("%w: pcap input: invalid destination_ip %q", core.ErrPluginInitFailed, cfg.DestinationIP)
		}
	}
	in.config = cfg
	return nil
}

// Start opens the capture file and detects its format and link type.
func (in *Input) Start(_ context.Context) error {
	f, err := os.Open(in.config.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.config.Path, err)
	}

	r := bufio.NewReader(f)
	magic, err := r.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("read %s header: %w", in.config.Path, err)
	}

	var src packetSource
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		src, err = pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(r)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("open capture %s: %w", in.config.Path, err)
	}

	var first gopacket.LayerType
	switch lt := src.LinkType(); lt {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeLinuxSLL:
		first = layers.LayerTypeLinuxSLL
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		first = layers.LayerTypeIPv6
	default:
		f.Close()
		return fmt.Errorf("capture %s: unsupported link type %s", in.config.Path, lt)
	}

	in.parser = gopacket.NewDecodingLayerParser(first,
		&in.eth,
		&in.dot1q,
		&in.sll,
		&in.ip4,
		&in.ip6,
		&in.udp,
		&in.payload,
	)
	in.parser.IgnoreUnsupported = true

	in.file = f
	in.source = src
	in.split.Reset()
	in.firstCapture = time.Time{}

	slog.Info("pcap input started",
		"path", in.config.Path,
		"link_type", src.LinkType().String(),
		"destination_port", in.config.DestinationPort,
		"realtime", in.config.Realtime,
	)
	return nil
}

// Stop closes the capture file.
func (in *Input) Stop(_ context.Context) error {
	if in.file == nil {
		return nil
	}
	err := in.file.Close()
	in.file = nil
	in.source = nil
	slog.Info("pcap input stopped",
		"path", in.config.Path,
		"frames", in.frames,
		"matched", in.matched,
		"filtered", in.filtered,
	)
	return err
}

// Receive returns the packets of the next matching UDP datagrams. The end of
// the capture file ends the stream.
func (in *Input) Receive(ctx context.Context, pkts []core.Packet) (int, error) {
	if in.source == nil {
		return 0, core.ErrPluginNotStarted
	}
	if len(pkts) == 0 {
		return 0, nil
	}

	for {
		if n := in.split.Read(pkts); n > 0 {
			return n, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		data, ci, err := in.source.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", in.config.Path, err)
		}
		in.frames++

		payload, ok := in.extract(data)
		if !ok {
			in.filtered++
			continue
		}
		in.matched++
		if in.config.Realtime {
			if err := in.pace(ctx, ci.Timestamp); err != nil {
				return 0, err
			}
		}
		in.split.Write(payload[:len(payload)-len(payload)%core.PacketSize])
	}
}

// extract returns the transport stream payload of a captured frame when it
// is a UDP datagram matching the filters.
func (in *Input) extract(frame []byte) ([]byte, bool) {
	_ = in.parser.DecodeLayers(frame, &in.decoded)

	var hasUDP bool
	var dst net.IP
	for _, lt := range in.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			dst = in.ip4.DstIP
		case layers.LayerTypeIPv6:
			dst = in.ip6.DstIP
		case layers.LayerTypeUDP:
			hasUDP = true
		}
	}
	if !hasUDP {
		return nil, false
	}
	if in.config.DestinationPort != 0 && uint16(in.udp.DstPort) != in.config.DestinationPort {
		return nil, false
	}
	if in.dstIP != nil && !in.dstIP.Equal(dst) {
		return nil, false
	}
	return codec.StripRTP(in.udp.Payload)
}

// pace sleeps until the wall clock has advanced as far as the capture clock.
func (in *Input) pace(ctx context.Context, ts time.Time) error {
	if in.firstCapture.IsZero() {
		in.firstCapture = ts
		in.firstWall = time.Now()
		return nil
	}
	wait := time.Until(in.firstWall.Add(ts.Sub(in.firstCapture)))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
