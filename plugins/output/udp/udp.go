// Package udp implements a UDP unicast and multicast output plugin.
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/codec"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const (
	defaultPacketsPerDatagram = 7
	maxPacketsPerDatagram     = 128
	rtpClockRate              = 90000
)

// Config represents UDP output configuration.
type Config struct {
	Address            string `mapstructure:"address"`              // required, destination ip:port
	Local              string `mapstructure:"local"`                // optional local bind address
	PacketsPerDatagram int    `mapstructure:"packets_per_datagram"` // optional, default 7
	TTL                int    `mapstructure:"ttl"`                  // optional, 0 keeps the system default
	Interface          string `mapstructure:"interface"`            // optional multicast outgoing interface
	Loopback           bool   `mapstructure:"loopback"`             // multicast loopback
	RTP                bool   `mapstructure:"rtp"`                  // encapsulate in RTP
}

// Output sends packets in UDP datagrams.
type Output struct {
	name   string
	config Config

	conn     *net.UDPConn
	datagram []byte
	seq      uint16
	ssrc     uint32
	epoch    time.Time

	datagrams uint64
}

// New creates a new UDP output.
func New() plugin.Output {
	return &Output{name: "udp"}
}

// Name returns the plugin name.
func (o *Output) Name() string { return o.name }

// Init parses the configuration.
func (o *Output) Init(config map[string]any) error {
	cfg := Config{PacketsPerDatagram: defaultPacketsPerDatagram}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Address == "" {
		return fmt.Errorf("%w: udp output: address is required", core.ErrPluginInitFailed)
	}
	if cfg.PacketsPerDatagram < 1 || cfg.PacketsPerDatagram > maxPacketsPerDatagram {
		return fmt.Errorf("%w: udp output: packets_per_datagram must be in [1, %d]",
			core.ErrPluginInitFailed, maxPacketsPerDatagram)
	}
	if cfg.TTL < 0 || cfg.TTL > 255 {
		return fmt.Errorf("%w: udp output: invalid ttl %d", core.ErrPluginInitFailed, cfg.TTL)
	}
	o.config = cfg
	return nil
}

// Start resolves the destination and opens the socket.
func (o *Output) Start(_ context.Context) error {
	raddr, err := net.ResolveUDPAddr("udp4", o.config.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", o.config.Address, err)
	}
	var laddr *net.UDPAddr
	if o.config.Local != "" {
		if laddr, err = net.ResolveUDPAddr("udp4", o.config.Local); err != nil {
			return fmt.Errorf("resolve %s: %w", o.config.Local, err)
		}
	}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.config.Address, err)
	}
	if err := o.configure(conn, raddr.IP.IsMulticast()); err != nil {
		conn.Close()
		return err
	}

	o.conn = conn
	o.datagram = make([]byte, 0, 12+o.config.PacketsPerDatagram*core.PacketSize)
	o.ssrc = rand.Uint32()
	o.epoch = time.Now()

	slog.Info("udp output started",
		"address", raddr.String(),
		"packets_per_datagram", o.config.PacketsPerDatagram,
		"ttl", o.config.TTL,
		"rtp", o.config.RTP,
	)
	return nil
}

func (o *Output) configure(conn *net.UDPConn, multicast bool) error {
	p := ipv4.NewConn(conn)
	if !multicast {
		if o.config.TTL > 0 {
			if err := p.SetTTL(o.config.TTL); err != nil {
				return fmt.Errorf("set ttl: %w", err)
			}
		}
		return nil
	}

	pc := ipv4.NewPacketConn(conn)
	if o.config.TTL > 0 {
		if err := pc.SetMulticastTTL(o.config.TTL); err != nil {
			return fmt.Errorf("set multicast ttl: %w", err)
		}
	}
	if o.config.Interface != "" {
		ifi, err := net.InterfaceByName(o.config.Interface)
		if err != nil {
			return fmt.Errorf("multicast interface %s: %w", o.config.Interface, err)
		}
		if err := pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("set multicast interface: %w", err)
		}
	}
	if err := pc.SetMulticastLoopback(o.config.Loopback); err != nil {
		return fmt.Errorf("set multicast loopback: %w", err)
	}
	return nil
}

// Stop closes the socket.
func (o *Output) Stop(_ context.Context) error {
	if o.conn == nil {
		return nil
	}
	err := o.conn.Close()
	o.conn = nil
	slog.Info("udp output stopped", "address", o.config.Address, "datagrams", o.datagrams)
	return err
}

// Send writes the packets in datagrams of at most packets_per_datagram packets.
func (o *Output) Send(_ context.Context, pkts []core.Packet) error {
	if o.conn == nil {
		return core.ErrPluginNotStarted
	}
	for len(pkts) > 0 {
		n := min(len(pkts), o.config.PacketsPerDatagram)
		d := o.datagram[:0]
		if o.config.RTP {
			ts := uint32(time.Since(o.epoch).Microseconds() * rtpClockRate / 1e6)
			d = codec.AppendRTPHeader(d, o.seq, ts, o.ssrc)
			o.seq++
		}
		for i := 0; i < n; i++ {
			d = append(d, pkts[i][:]...)
		}
		if _, err := o.conn.Write(d); err != nil {
			return fmt.Errorf("udp send to %s: %w", o.config.Address, err)
		}
		o.datagrams++
		pkts = pkts[n:]
	}
	return nil
}
