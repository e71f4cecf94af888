package config

import (
	"fmt"
	"time"

	"firestige.xyz/tsswitch/internal/core"
)

// SwitchConfig configures the switching engine.
type SwitchConfig struct {
	BufferPackets        int             `mapstructure:"buffer_packets"`
	MaxInputPackets      int             `mapstructure:"max_input_packets"`
	MaxOutputPackets     int             `mapstructure:"max_output_packets"`
	FirstInput           int             `mapstructure:"first_input"`
	PrimaryInput         int             `mapstructure:"primary_input"` // -1 = none
	FastSwitch           bool            `mapstructure:"fast_switch"`
	DelayedSwitch        bool            `mapstructure:"delayed_switch"`
	DelayedSwitchTimeout time.Duration   `mapstructure:"delayed_switch_timeout"`
	ReceiveTimeout       time.Duration   `mapstructure:"receive_timeout"` // 0 = disabled
	TerminateOnInputEnd  bool            `mapstructure:"terminate_on_input_end"`
	NonCurrentPolicy     string          `mapstructure:"non_current_policy"` // stall | drop_oldest
	OutputPollInterval   time.Duration   `mapstructure:"output_poll_interval"`
	SinkRetry            SinkRetryConfig `mapstructure:"sink_retry"`
}

// SinkRetryConfig controls output send retries.
type SinkRetryConfig struct {
	Attempts uint          `mapstructure:"attempts"`
	Delay    time.Duration `mapstructure:"delay"`
}

// PluginConfig names a plugin and carries its plugin-specific settings.
type PluginConfig struct {
	Name   string         `mapstructure:"name" json:"name" yaml:"name"`
	Config map[string]any `mapstructure:"config" json:"config,omitempty" yaml:"config,omitempty"`
}

// Validate checks the switch settings against the number of inputs.
func (s *SwitchConfig) Validate(inputs int) error {
	if s.BufferPackets <= 0 {
		return fmt.Errorf("%w: switch.buffer_packets must be positive", core.ErrConfigInvalid)
	}
	if s.MaxInputPackets <= 0 || s.MaxOutputPackets <= 0 {
		return fmt.Errorf("%w: switch.max_input_packets and switch.max_output_packets must be positive", core.ErrConfigInvalid)
	}
	if inputs > 0 && (s.FirstInput < 0 || s.FirstInput >= inputs) {
		return fmt.Errorf("%w: switch.first_input %d out of range (%d inputs)", core.ErrConfigInvalid, s.FirstInput, inputs)
	}
	if s.PrimaryInput < -1 || (inputs > 0 && s.PrimaryInput >= inputs) {
		return fmt.Errorf("%w: switch.primary_input %d out of range (%d inputs)", core.ErrConfigInvalid, s.PrimaryInput, inputs)
	}
	switch s.NonCurrentPolicy {
	case "stall", "drop_oldest":
	default:
		return fmt.Errorf("%w: switch.non_current_policy %q (must be stall/drop_oldest)", core.ErrConfigInvalid, s.NonCurrentPolicy)
	}
	if s.ReceiveTimeout < 0 || s.DelayedSwitchTimeout < 0 || s.OutputPollInterval < 0 {
		return fmt.Errorf("%w: switch durations must not be negative", core.ErrConfigInvalid)
	}
	if s.SinkRetry.Attempts == 0 {
		s.SinkRetry.Attempts = 1
	}
	return nil
}
