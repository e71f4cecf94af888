// Package null implements an input plugin generating null packets.
package null

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/plugin"
)

// Config represents null input configuration.
type Config struct {
	Count int64 `mapstructure:"count"` // packets to generate, 0 = unlimited
	Rate  int   `mapstructure:"rate"`  // packets per second, 0 = unlimited
}

// Input generates stuffing packets on PID 0x1FFF.
type Input struct {
	name    string
	config  Config
	pacer   *plugin.Pacer
	started bool
	emitted int64
}

// New creates a new null input.
func New() plugin.Input {
	return &Input{name: "null"}
}

// Name returns the plugin name.
func (in *Input) Name() string { return in.name }

// Init parses the configuration.
func (in *Input) Init(config map[string]any) error {
	var cfg Config
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.Count < 0 || cfg.Rate < 0 {
		return fmt.Errorf("%w: null input: count and rate must not be negative", core.ErrPluginInitFailed)
	}
	in.config = cfg
	return nil
}

// Start resets the generator.
func (in *Input) Start(_ context.Context) error {
	in.pacer = plugin.NewPacer(in.config.Rate)
	in.started = true
	slog.Info("null input started", "count", in.config.Count, "rate", in.config.Rate)
	return nil
}

// Stop halts the generator. The emitted count is kept so that a restarted
// input does not exceed its total count.
func (in *Input) Stop(_ context.Context) error {
	if in.started {
		in.started = false
		slog.Info("null input stopped", "emitted", in.emitted)
	}
	return nil
}

// Receive fills pkts with null packets.
func (in *Input) Receive(ctx context.Context, pkts []core.Packet) (int, error) {
	if !in.started {
		return 0, core.ErrPluginNotStarted
	}
	n := len(pkts)
	if in.config.Count > 0 {
		left := in.config.Count - in.emitted
		if left <= 0 {
			return 0, io.EOF
		}
		if int64(n) > left {
			n = int(left)
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		pkts[i] = core.NullPacket
	}
	in.emitted += int64(n)
	return n, in.pacer.Wait(ctx, n)
}
