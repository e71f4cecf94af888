// Package drop implements an output plugin discarding every packet.
package drop

import (
	"context"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/pkg/plugin"
)

// Output counts and discards packets.
type Output struct {
	name    string
	dropped atomic.Uint64
}

// New creates a new drop output.
func New() plugin.Output {
	return &Output{name: "drop"}
}

// Name returns the plugin name.
func (o *Output) Name() string { return o.name }

// Init accepts no configuration keys.
func (o *Output) Init(cfg map[string]any) error {
	var none struct{}
	return plugin.DecodeConfig(cfg, &none)
}

// Start does nothing.
func (o *Output) Start(_ context.Context) error { return nil }

// Stop logs the number of discarded packets.
func (o *Output) Stop(_ context.Context) error {
	slog.Info("drop output stopped", "packets", o.dropped.Load())
	return nil
}

// Send discards the packets.
func (o *Output) Send(_ context.Context, pkts []core.Packet) error {
	o.dropped.Add(uint64(len(pkts)))
	return nil
}

// Dropped returns the number of discarded packets.
func (o *Output) Dropped() uint64 { return o.dropped.Load() }
