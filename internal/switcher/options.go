// Package switcher implements the transport stream switching engine: one
// executor per input feeding a bounded packet buffer, and a core that forwards
// the current input's packets to a single output.
package switcher

import (
	"fmt"
	"time"

	"firestige.xyz/tsswitch/internal/core"
)

// Policy controls what a non-current input does when its buffer is full.
type Policy string

const (
	// PolicyStall blocks the producer until the buffer drains.
	PolicyStall Policy = "stall"
	// PolicyDropOldest discards the oldest unclaimed packets to make room.
	PolicyDropOldest Policy = "drop_oldest"
)

// NoPrimary disables primary input switch-back.
const NoPrimary = -1

// Default option values.
const (
	DefaultBufferPackets        = 512
	DefaultMaxInputPackets      = 128
	DefaultMaxOutputPackets     = 128
	DefaultOutputPollInterval   = 100 * time.Millisecond
	DefaultDelayedSwitchTimeout = 5 * time.Second
	DefaultSinkRetryAttempts    = 3
	DefaultSinkRetryDelay       = 50 * time.Millisecond
)

// Options configures a Core.
type Options struct {
	BufferPackets        int
	MaxInputPackets      int
	MaxOutputPackets     int
	FirstInput           int
	PrimaryInput         int
	FastSwitch           bool
	DelayedSwitch        bool
	DelayedSwitchTimeout time.Duration
	ReceiveTimeout       time.Duration
	TerminateOnInputEnd  bool
	NonCurrentPolicy     Policy
	OutputPollInterval   time.Duration
	SinkRetryAttempts    uint
	SinkRetryDelay       time.Duration
}

// DefaultOptions returns options with every field at its default.
func DefaultOptions() Options {
	return Options{
		BufferPackets:        DefaultBufferPackets,
		MaxInputPackets:      DefaultMaxInputPackets,
		MaxOutputPackets:     DefaultMaxOutputPackets,
		PrimaryInput:         NoPrimary,
		DelayedSwitchTimeout: DefaultDelayedSwitchTimeout,
		NonCurrentPolicy:     PolicyStall,
		OutputPollInterval:   DefaultOutputPollInterval,
		SinkRetryAttempts:    DefaultSinkRetryAttempts,
		SinkRetryDelay:       DefaultSinkRetryDelay,
	}
}

// normalize fills zero values with defaults and checks index ranges
// against the number of inputs.
func (o *Options) normalize(inputs int) error {
	if o.BufferPackets <= 0 {
		o.BufferPackets = DefaultBufferPackets
	}
	if o.MaxInputPackets <= 0 {
		o.MaxInputPackets = DefaultMaxInputPackets
	}
	if o.MaxOutputPackets <= 0 {
		o.MaxOutputPackets = DefaultMaxOutputPackets
	}
	if o.OutputPollInterval <= 0 {
		o.OutputPollInterval = DefaultOutputPollInterval
	}
	if o.DelayedSwitchTimeout <= 0 {
		o.DelayedSwitchTimeout = DefaultDelayedSwitchTimeout
	}
	if o.SinkRetryAttempts == 0 {
		o.SinkRetryAttempts = 1
	}
	if o.NonCurrentPolicy == "" {
		o.NonCurrentPolicy = PolicyStall
	}

	switch o.NonCurrentPolicy {
	case PolicyStall, PolicyDropOldest:
	default:
		return fmt.Errorf("%w: unknown non-current policy %q", core.ErrConfigInvalid, o.NonCurrentPolicy)
	}
	if o.FirstInput < 0 || o.FirstInput >= inputs {
		return fmt.Errorf("%w: first input %d, have %d inputs", core.ErrInvalidInput, o.FirstInput, inputs)
	}
	if o.PrimaryInput != NoPrimary && (o.PrimaryInput < 0 || o.PrimaryInput >= inputs) {
		return fmt.Errorf("%w: primary input %d, have %d inputs", core.ErrInvalidInput, o.PrimaryInput, inputs)
	}
	return nil
}
