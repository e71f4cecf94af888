// Package udp implements a UDP unicast and multicast input plugin.
// Datagrams carry either raw transport packets or RTP-encapsulated ones.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/codec"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const (
	maxDatagramSize = 65536
	pollInterval    = 100 * time.Millisecond
)

// Config represents UDP input configuration.
type Config struct {
	Address        string        `mapstructure:"address"`         // required, ip:port or group:port
	Interface      string        `mapstructure:"interface"`       // optional multicast interface name
	Source         string        `mapstructure:"source"`          // optional sender filter, source-specific join for multicast
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"` // optional, 0 = wait forever
	ReadBuffer     int           `mapstructure:"read_buffer"`     // optional socket receive buffer in bytes
}

// Input receives packets from a UDP socket.
type Input struct {
	name   string
	config Config
	source net.IP

	conn     *net.UDPConn
	pconn    *ipv4.PacketConn
	group    net.IP
	ifi      *net.Interface
	split    codec.Splitter
	datagram []byte
	lastData time.Time

	filtered uint64
	rejected uint64
}

// New creates a new UDP input.
func New() plugin.Input {
	return &Input{name: "udp"}
}

// Name returns the plugin name.
func (in *Input) Name() string { return in.name }

// Init parses the configuration.
func (in *Input) Init(config map[string]any) error {
	var cfg Config
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Address == "" {
		return fmt.Errorf("%w: udp input: address is required", core.ErrPluginInitFailed)
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return fmt.Errorf("%w: udp input: invalid address %q: %v", core.ErrPluginInitFailed, cfg.Address, err)
	}
	if cfg.Source != "" {
		in.source = net.ParseIP(cfg.Source)
		if in.source == nil {
			return fmt.Errorf("%w: udp input: invalid source %q", core.ErrPluginInitFailed, cfg.Source)
		}
	}
	if cfg.ReceiveTimeout < 0 {
		return fmt.Errorf("%w: udp input: negative receive_timeout", core.ErrPluginInitFailed)
	}
	in.config = cfg
	return nil
}

// Start binds the socket and joins the multicast group if needed.
func (in *Input) Start(ctx context.Context) error {
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", in.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", in.config.Address, err)
	}
	conn := pc.(*net.UDPConn)

	if in.config.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(in.config.ReadBuffer); err != nil {
			slog.Warn("udp input: set read buffer failed", "size", in.config.ReadBuffer, "error", err)
		}
	}

	local := conn.LocalAddr().(*net.UDPAddr)
	if local.IP.IsMulticast() {
		if err := in.join(conn, local.IP); err != nil {
			conn.Close()
			return err
		}
	}

	in.conn = conn
	if in.datagram == nil {
		in.datagram = make([]byte, maxDatagramSize)
	}
	in.split.Reset()
	in.lastData = time.Now()

	slog.Info("udp input started",
		"address", local.String(),
		"multicast", local.IP.IsMulticast(),
		"source", in.config.Source,
		"receive_timeout", in.config.ReceiveTimeout,
	)
	return nil
}

func (in *Input) join(conn *net.UDPConn, group net.IP) error {
	var ifi *net.Interface
	if in.config.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(in.config.Interface); err != nil {
			return fmt.Errorf("multicast interface %s: %w", in.config.Interface, err)
		}
	}

	p := ipv4.NewPacketConn(conn)
	g := &net.UDPAddr{IP: group}
	if in.source != nil {
		if err := p.JoinSourceSpecificGroup(ifi, g, &net.UDPAddr{IP: in.source}); err != nil {
			return fmt.Errorf("join %s from %s: %w", group, in.source, err)
		}
	} else if err := p.JoinGroup(ifi, g); err != nil {
		return fmt.Errorf("join %s: %w", group, err)
	}

	in.pconn = p
	in.group = group
	in.ifi = ifi
	return nil
}

// Stop leaves the group and closes the socket.
func (in *Input) Stop(_ context.Context) error {
	if in.conn == nil {
		return nil
	}
	if in.pconn != nil {
		g := &net.UDPAddr{IP: in.group}
		if in.source != nil {
			_ = in.pconn.LeaveSourceSpecificGroup(in.ifi, g, &net.UDPAddr{IP: in.source})
		} else {
			_ = in.pconn.LeaveGroup(in.ifi, g)
		}
		in.pconn = nil
	}
	err := in.conn.Close()
	in.conn = nil
	slog.Info("udp input stopped",
		"address", in.config.Address,
		"filtered_datagrams", in.filtered,
		"rejected_datagrams", in.rejected,
	)
	return err
}

// Addr returns the bound local address, or nil when not started.
func (in *Input) Addr() net.Addr {
	if in.conn == nil {
		return nil
	}
	return in.conn.LocalAddr()
}

// Receive returns packets from the next datagrams. Packets of a datagram
// that do not fit into pkts are returned by the following call.
func (in *Input) Receive(ctx context.Context, pkts []core.Packet) (int, error) {
	if in.conn == nil {
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

		if err := in.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return 0, fmt.Errorf("udp set deadline: %w", err)
		}
		m, src, err := in.conn.ReadFromUDP(in.datagram)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if t := in.config.ReceiveTimeout; t > 0 && time.Since(in.lastData) >= t {
					return 0, fmt.Errorf("%w: no datagram on %s for %s", core.ErrReceiveTimeout, in.config.Address, t)
				}
				continue
			}
			return 0, fmt.Errorf("udp receive: %w", err)
		}

		if in.source != nil && !src.IP.Equal(in.source) {
			in.filtered++
			continue
		}
		payload, ok := codec.StripRTP(in.datagram[:m])
		if !ok {
			in.rejected++
			continue
		}
		in.lastData = time.Now()
		in.split.Write(payload[:len(payload)-len(payload)%core.PacketSize])
	}
}
