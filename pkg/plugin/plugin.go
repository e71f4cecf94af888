// Package plugin defines the input and output plugin interfaces of the switch
// engine and the factory registry used to build them from configuration.
package plugin

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/tsswitch/internal/core"
)

// Plugin is the base interface for all plugins.
type Plugin interface {
	Name() string
	Init(cfg map[string]any) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Input pulls transport packets from a source. It is called by exactly one
// input executor.
//
// Receive fills pkts from the front and returns the number of packets
// written. It may block until at least one packet is available. End of
// stream is reported as io.EOF; any other error ends the input as well.
type Input interface {
	Plugin
	Receive(ctx context.Context, pkts []core.Packet) (int, error)
}

// Output accepts contiguous runs of packets. It is called only by the
// engine's output loop. The slice is only valid for the duration of the call.
type Output interface {
	Plugin
	Send(ctx context.Context, pkts []core.Packet) error
}

// DecodeConfig decodes a plugin configuration map into out, which must be a
// pointer to a struct tagged with mapstructure tags. Strings such as "5s" are
// accepted for time.Duration fields.
func DecodeConfig(cfg map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPluginInitFailed, err)
	}
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", core.ErrPluginInitFailed, err)
	}
	return nil
}
