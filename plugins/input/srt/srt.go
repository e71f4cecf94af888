// Package srt implements an SRT input plugin in caller or listener mode.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/codec"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const (
	// readBufferSize holds ten 1316-byte SRT payloads of 7 packets each.
	readBufferSize = 1316 * 10

	defaultLatency     = 120 * time.Millisecond
	defaultDialTimeout = 10 * time.Second

	ModeCaller   = "caller"
	ModeListener = "listener"
)

// Config represents SRT input configuration.
type Config struct {
	Mode        string        `mapstructure:"mode"`         // caller|listener, default caller
	Address     string        `mapstructure:"address"`      // required, remote address (caller) or bind address (listener)
	StreamID    string        `mapstructure:"streamid"`     // optional; in listener mode, callers with another id are rejected
	Latency     time.Duration `mapstructure:"latency"`      // optional, default 120ms
	DialTimeout time.Duration `mapstructure:"dial_timeout"` // optional, default 10s
}

// Input receives packets over SRT.
type Input struct {
	name   string
	config Config

	accept        func() (*srtgo.Conn, error)
	closeListener func()
	conn          *srtgo.Conn
	split    codec.Splitter
	chunk    []byte
	atEOF    bool

	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // guards the sockets against the context watcher
}

// New creates a new SRT input.
func New() plugin.Input {
	return &Input{name: "srt"}
}

// Name returns the plugin name.
func (in *Input) Name() string { return in.name }

// Init parses the configuration.
func (in *Input) Init(config map[string]any) error {
	cfg := Config{
		Mode:        ModeCaller,
		Latency:     defaultLatency,
		DialTimeout: defaultDialTimeout,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Address == "" {
		return fmt.Errorf("%w: srt input: address is required", core.ErrPluginInitFailed)
	}
	if cfg.Mode != ModeCaller && cfg.Mode != ModeListener {
		return fmt.Errorf("%w: srt input: invalid mode %q", core.ErrPluginInitFailed, cfg.Mode)
	}
	if cfg.Latency < 0 || cfg.DialTimeout <= 0 {
		return fmt.Errorf("%w: srt input: latency and dial_timeout must be positive", core.ErrPluginInitFailed)
	}
	in.config = cfg
	return nil
}

// Start connects to the remote peer in caller mode, or opens the listening
// socket in listener mode. The peer is then accepted by the first Receive.
func (in *Input) Start(ctx context.Context) error {
	in.split.Reset()
	in.atEOF = false
	if in.chunk == nil {
		in.chunk = make([]byte, readBufferSize)
	}
	in.done = make(chan struct{})
	in.closeOnce = sync.Once{}

	switch in.config.Mode {
	case ModeListener:
		cfg := srtgo.DefaultConfig()
		cfg.Latency = in.config.Latency
		l, err := srtgo.Listen(in.config.Address, cfg)
		if err != nil {
			return fmt.Errorf("srt listen on %s: %w", in.config.Address, err)
		}
		if id := in.config.StreamID; id != "" {
			l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
				if req.StreamID != id {
					return srtgo.RejPeer
				}
				return 0
			})
		}
		in.mu.Lock()
		in.accept = l.Accept
		in.closeListener = func() { l.Close() }
		in.mu.Unlock()
		slog.Info("srt input listening", "address", in.config.Address, "streamid", in.config.StreamID)

	default:
		conn, err := in.dial(ctx)
		if err != nil {
			return err
		}
		in.conn = conn
		slog.Info("srt input connected", "address", in.config.Address, "streamid", in.config.StreamID)
	}

	go in.watch(ctx, in.done)
	return nil
}

func (in *Input) dial(ctx context.Context) (*srtgo.Conn, error) {
	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	cfg := srtgo.DefaultConfig()
	cfg.Latency = in.config.Latency
	if in.config.StreamID != "" {
		cfg.StreamID = in.config.StreamID
	}
	go func() {
		conn, err := srtgo.Dial(in.config.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(in.config.DialTimeout)
	defer timer.Stop()

	drain := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt dial %s: %w", in.config.Address, res.err)
		}
		return res.conn, nil
	case <-timer.C:
		drain()
		return nil, fmt.Errorf("srt dial %s timed out after %s", in.config.Address, in.config.DialTimeout)
	case <-ctx.Done():
		drain()
		return nil, ctx.Err()
	}
}

// watch closes the sockets when ctx ends so that blocking reads return.
func (in *Input) watch(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		in.closeAll()
	case <-done:
	}
}

func (in *Input) closeAll() {
	in.closeOnce.Do(func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		if in.conn != nil {
			in.conn.Close()
		}
		if in.closeListener != nil {
			in.closeListener()
		}
	})
}

// Stop closes the connection and the listener.
func (in *Input) Stop(_ context.Context) error {
	if in.done == nil {
		return nil
	}
	close(in.done)
	in.closeAll()

	in.mu.Lock()
	in.conn = nil
	in.accept = nil
	in.closeListener = nil
	in.mu.Unlock()
	in.done = nil

	slog.Info("srt input stopped", "address", in.config.Address, "skipped_bytes", in.split.Skipped())
	return nil
}

// Receive returns packets read from the SRT connection. In listener mode the
// first call waits for a caller. Disconnection of the peer ends the stream.
func (in *Input) Receive(ctx context.Context, pkts []core.Packet) (int, error) {
	if in.done == nil {
		return 0, core.ErrPluginNotStarted
	}
	if len(pkts) == 0 {
		return 0, nil
	}

	for {
		if n := in.split.Read(pkts); n > 0 {
			return n, nil
		}
		if in.atEOF {
			return 0, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		conn, err := in.connection()
		if err != nil {
			return 0, err
		}
		m, err := conn.Read(in.chunk)
		if m > 0 {
			in.split.Write(in.chunk[:m])
		}
		if errors.Is(err, io.EOF) {
			in.atEOF = true
		} else if err != nil {
			return 0, fmt.Errorf("srt read: %w", err)
		}
	}
}

func (in *Input) connection() (*srtgo.Conn, error) {
	in.mu.Lock()
	conn, accept := in.conn, in.accept
	in.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	conn, err := accept()
	if err != nil {
		return nil, fmt.Errorf("srt accept: %w", err)
	}
	in.mu.Lock()
	in.conn = conn
	in.mu.Unlock()
	slog.Info("srt input accepted caller", "remote", conn.RemoteAddr(), "streamid", conn.StreamID())
	return conn, nil
}
