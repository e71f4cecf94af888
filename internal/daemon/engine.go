package daemon

import (
	"fmt"
	"log/slog"

	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/switcher"
	"firestige.xyz/tsswitch/pkg/plugin"
)

// BuildEngine creates and initialises the configured plugins and wires them
// into a switch engine. Plugins are looked up in the plugin registry, so the
// caller must have linked the plugins package.
func BuildEngine(cfg *config.GlobalConfig) (*switcher.Core, error) {
	inputs := make([]plugin.Input, 0, len(cfg.Inputs))
	for i, pc := range cfg.Inputs {
		factory, err := plugin.GetInputFactory(pc.Name)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}
		in := factory()
		if err := in.Init(pc.Config); err != nil {
			return nil, fmt.Errorf("inputs[%d] %s: %w", i, pc.Name, err)
		}
		slog.Debug("input plugin initialised", "input", i, "plugin", pc.Name)
		inputs = append(inputs, in)
	}

	factory, err := plugin.GetOutputFactory(cfg.Output.Name)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	out := factory()
	if err := out.Init(cfg.Output.Config); err != nil {
		return nil, fmt.Errorf("output %s: %w", cfg.Output.Name, err)
	}

	return switcher.New(EngineOptions(cfg.Switch), inputs, out)
}

// EngineOptions maps the switch section of the configuration to engine options.
func EngineOptions(sc config.SwitchConfig) switcher.Options {
	return switcher.Options{
		BufferPackets:        sc.BufferPackets,
		MaxInputPackets:      sc.MaxInputPackets,
		MaxOutputPackets:     sc.MaxOutputPackets,
		FirstInput:           sc.FirstInput,
		PrimaryInput:         sc.PrimaryInput,
		FastSwitch:           sc.FastSwitch,
		DelayedSwitch:        sc.DelayedSwitch,
		DelayedSwitchTimeout: sc.DelayedSwitchTimeout,
		ReceiveTimeout:       sc.ReceiveTimeout,
		TerminateOnInputEnd:  sc.TerminateOnInputEnd,
		NonCurrentPolicy:     switcher.Policy(sc.NonCurrentPolicy),
		OutputPollInterval:   sc.OutputPollInterval,
		SinkRetryAttempts:    sc.SinkRetry.Attempts,
		SinkRetryDelay:       sc.SinkRetry.Delay,
	}
}
