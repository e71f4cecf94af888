// Package file implements an input plugin reading transport packets from a file.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/codec"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const readBufferSize = 64 * 1024

// Config represents file input configuration.
type Config struct {
	Path   string `mapstructure:"path"`   // required
	Repeat int    `mapstructure:"repeat"` // 0 or 1 plays once, N plays N times, -1 loops forever
	Rate   int    `mapstructure:"rate"`   // packets per second, 0 = as fast as the engine accepts
}

// Input reads packets from a file.
type Input struct {
	name   string
	config Config

	file      *os.File
	reader    *bufio.Reader
	split     codec.Splitter
	pacer     *plugin.Pacer
	chunk     []byte
	atEOF     bool
	plays     int
	playBytes int64
}

// New creates a new file input.
func New() plugin.Input {
	return &Input{name: "file"}
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
		return fmt.Errorf("%w: file input: path is required", core.ErrPluginInitFailed)
	}
	if cfg.Repeat < -1 {
		return fmt.Errorf("%w: file input: invalid repeat %d", core.ErrPluginInitFailed, cfg.Repeat)
	}
	in.config = cfg
	return nil
}

// Start opens the file and positions it at the beginning.
func (in *Input) Start(_ context.Context) error {
	f, err := os.Open(in.config.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", in.config.Path, err)
	}
	in.file = f
	in.reader = bufio.NewReaderSize(f, readBufferSize)
	in.split.Reset()
	in.pacer = plugin.NewPacer(in.config.Rate)
	in.atEOF = false
	in.plays = 0
	in.playBytes = 0

	slog.Info("file input started", "path", in.config.Path, "repeat", in.config.Repeat, "rate", in.config.Rate)
	return nil
}

// Stop closes the file.
func (in *Input) Stop(_ context.Context) error {
	if in.file == nil {
		return nil
	}
	err := in.file.Close()
	in.file = nil
	in.reader = nil
	slog.Info("file input stopped", "path", in.config.Path, "skipped_bytes", in.split.Skipped())
	return err
}

// Receive returns the next packets of the file.
func (in *Input) Receive(ctx context.Context, pkts []core.Packet) (int, error) {
	if in.file == nil {
		return 0, core.ErrPluginNotStarted
	}
	if len(pkts) == 0 {
		return 0, nil
	}

	size := len(pkts) * core.PacketSize
	if cap(in.chunk) < size {
		in.chunk = make([]byte, size)
	}

	for {
		if n := in.split.Read(pkts); n > 0 {
			return n, in.pacer.Wait(ctx, n)
		}
		if in.atEOF {
			// Only a partial packet can be left at this point.
			in.split.Reset()
			if !in.rewind() {
				return 0, io.EOF
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		m, err := in.reader.Read(in.chunk[:size])
		if m > 0 {
			in.split.Write(in.chunk[:m])
			in.playBytes += int64(m)
		}
		if errors.Is(err, io.EOF) {
			in.atEOF = true
		} else if err != nil {
			return 0, fmt.Errorf("read %s: %w", in.config.Path, err)
		}
	}
}

// rewind seeks back to the start of the file when another play is due.
func (in *Input) rewind() bool {
	in.plays++
	if in.playBytes == 0 {
		return false
	}
	if in.config.Repeat != -1 && in.plays >= in.config.Repeat {
		return false
	}
	if _, err := in.file.Seek(0, io.SeekStart); err != nil {
		slog.Error("file input rewind failed", "path", in.config.Path, "error", err)
		return false
	}
	in.reader.Reset(in.file)
	in.atEOF = false
	in.playBytes = 0
	slog.Debug("file input rewound", "path", in.config.Path, "plays", in.plays)
	return true
}
