// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/tsswitch/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `tsswitch:` root key in YAML.
type GlobalConfig struct {
	Node           NodeConfig           `mapstructure:"node"`
	Control        ControlConfig        `mapstructure:"control"`
	Kafka          GlobalKafkaConfig    `mapstructure:"kafka"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Remote         RemoteConfig         `mapstructure:"remote"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
	Switch         SwitchConfig         `mapstructure:"switch"`
	Inputs         []PluginConfig       `mapstructure:"inputs"`
	Output         PluginConfig         `mapstructure:"output"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname(); matched against Kafka command targets
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// RemoteConfig configures the UDP text remote control.
type RemoteConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Listen  string   `mapstructure:"listen"`  // e.g. ":4000"
	Allowed []string `mapstructure:"allowed"` // source IPs; empty = any
}

// ─── Kafka Global Default ───

// GlobalKafkaConfig provides shared Kafka connection defaults.
// command_channel.kafka inherits from here when its fields are zero.
type GlobalKafkaConfig struct {
	Brokers []string   `mapstructure:"brokers"`
	SASL    SASLConfig `mapstructure:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ─── Command Channel ───

// CommandChannelConfig configures the remote command channel.
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL string             `mapstructure:"command_ttl"` // Default "5m"
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
// Brokers/SASL/TLS inherit from GlobalKafkaConfig when empty/zero.
type CommandKafkaConfig struct {
	Brokers         []string   `mapstructure:"brokers"`
	Topic           string     `mapstructure:"topic"`
	ResponseTopic   string     `mapstructure:"response_topic"` // empty = responses disabled
	GroupID         string     `mapstructure:"group_id"`
	AutoOffsetReset string     `mapstructure:"auto_offset_reset"`
	SASL            SASLConfig `mapstructure:"sasl"`
	TLS             TLSConfig  `mapstructure:"tls"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `tsswitch: ...`.
type configRoot struct {
	TSSwitch GlobalConfig `mapstructure:"tsswitch"`
}

// Load loads configuration from file.
// The YAML file uses `tsswitch:` as root key; env vars use the TSSWITCH_ prefix
// (e.g., TSSWITCH_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// The `tsswitch.` key prefix maps to TSSWITCH_ through the key replacer
	// (key "tsswitch.switch.fast_switch" → env "TSSWITCH_SWITCH_FAST_SWITCH").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.TSSwitch

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "tsswitch." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Control defaults
	v.SetDefault("tsswitch.control.pid_file", "/var/run/tsswitch.pid")
	v.SetDefault("tsswitch.control.socket", "/var/run/tsswitch.sock")

	// Log defaults
	v.SetDefault("tsswitch.log.level", "info")
	v.SetDefault("tsswitch.log.format", "json")
	v.SetDefault("tsswitch.log.outputs.file.enabled", false)
	v.SetDefault("tsswitch.log.outputs.file.path", "/var/log/tsswitch/tsswitch.log")
	v.SetDefault("tsswitch.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("tsswitch.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("tsswitch.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("tsswitch.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("tsswitch.metrics.enabled", true)
	v.SetDefault("tsswitch.metrics.listen", ":9091")
	v.SetDefault("tsswitch.metrics.path", "/metrics")

	// Remote control defaults
	v.SetDefault("tsswitch.remote.enabled", false)

	// Command channel defaults
	v.SetDefault("tsswitch.command_channel.enabled", false)
	v.SetDefault("tsswitch.command_channel.type", "kafka")
	v.SetDefault("tsswitch.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("tsswitch.command_channel.command_ttl", "5m")

	// Switch engine defaults
	v.SetDefault("tsswitch.switch.buffer_packets", 512)
	v.SetDefault("tsswitch.switch.max_input_packets", 128)
	v.SetDefault("tsswitch.switch.max_output_packets", 128)
	v.SetDefault("tsswitch.switch.first_input", 0)
	v.SetDefault("tsswitch.switch.primary_input", -1)
	v.SetDefault("tsswitch.switch.fast_switch", false)
	v.SetDefault("tsswitch.switch.delayed_switch", false)
	v.SetDefault("tsswitch.switch.delayed_switch_timeout", "5s")
	v.SetDefault("tsswitch.switch.receive_timeout", "0s")
	v.SetDefault("tsswitch.switch.terminate_on_input_end", false)
	v.SetDefault("tsswitch.switch.non_current_policy", "stall")
	v.SetDefault("tsswitch.switch.output_poll_interval", "100ms")
	v.SetDefault("tsswitch.switch.sink_retry.attempts", 3)
	v.SetDefault("tsswitch.switch.sink_retry.delay", "50ms")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if err := cfg.Log.Validate(); err != nil {
		return err
	}

	// ── Node hostname auto-detect ──
	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	// ── Switch engine ──
	if err := cfg.Switch.Validate(len(cfg.Inputs)); err != nil {
		return err
	}
	if len(cfg.Inputs) == 0 {
		return fmt.Errorf("%w: at least one input is required", core.ErrConfigInvalid)
	}
	for i, in := range cfg.Inputs {
		if in.Name == "" {
			return fmt.Errorf("%w: inputs[%d].name is required", core.ErrConfigInvalid, i)
		}
	}
	if cfg.Output.Name == "" {
		return fmt.Errorf("%w: output.name is required", core.ErrConfigInvalid)
	}

	// ── Remote control ──
	if cfg.Remote.Enabled && cfg.Remote.Listen == "" {
		return fmt.Errorf("%w: remote.listen is required when remote.enabled=true", core.ErrConfigInvalid)
	}

	// ── Kafka inheritance ──
	applyKafkaInheritance(cfg)

	// ── Command channel validation ──
	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return fmt.Errorf("%w: unsupported command_channel.type: %s (only 'kafka' supported)",
				core.ErrConfigInvalid, cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return fmt.Errorf("%w: command_channel.kafka.brokers is required when command_channel.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return fmt.Errorf("%w: command_channel.kafka.topic is required when command_channel.enabled=true", core.ErrConfigInvalid)
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "tsswitch-" + cfg.Node.Hostname
		}
		if _, err := time.ParseDuration(cfg.CommandChannel.CommandTTL); err != nil {
			return fmt.Errorf("%w: invalid command_channel.command_ttl %q", core.ErrConfigInvalid, cfg.CommandChannel.CommandTTL)
		}
	}

	return nil
}

// Validate checks the log level and format.
func (l LogConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, l.Level)
	}
	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, l.Format)
	}
	return nil
}

// applyKafkaInheritance copies global kafka fields into command_channel.kafka
// when its local fields are empty/zero.
func applyKafkaInheritance(cfg *GlobalConfig) {
	global := &cfg.Kafka

	cc := &cfg.CommandChannel.Kafka
	if len(cc.Brokers) == 0 {
		cc.Brokers = global.Brokers
	}
	if !cc.SASL.Enabled && global.SASL.Enabled {
		cc.SASL = global.SASL
	}
	if !cc.TLS.Enabled && global.TLS.Enabled {
		cc.TLS = global.TLS
	}
}
