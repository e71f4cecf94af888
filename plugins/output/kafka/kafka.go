// Package kafka implements an output plugin publishing packets to Kafka.
// Each message carries a run of whole transport packets.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/core"
	"firestige.xyz/tsswitch/internal/kafkaauth"
	"firestige.xyz/tsswitch/pkg/plugin"
)

const (
	defaultPacketsPerMessage = 7
	defaultBatchSize         = 100
	defaultBatchTimeout      = 10 * time.Millisecond
	defaultCompression       = "none"
	defaultMaxAttempts       = 3

	headerPackets = "ts-packets"
)

// Config represents Kafka output configuration.
type Config struct {
	Brokers           []string          `mapstructure:"brokers"`             // required
	Topic             string            `mapstructure:"topic"`               // required
	Key               string            `mapstructure:"key"`                 // optional message key
	PacketsPerMessage int               `mapstructure:"packets_per_message"` // optional, default 7
	BatchSize         int               `mapstructure:"batch_size"`          // optional, default 100
	BatchTimeout      time.Duration     `mapstructure:"batch_timeout"`       // optional, default 10ms
	Compression       string            `mapstructure:"compression"`         // optional: none|gzip|snappy|lz4|zstd
	MaxAttempts       int               `mapstructure:"max_attempts"`        // optional, default 3
	SASL              config.SASLConfig `mapstructure:"sasl"`
	TLS               config.TLSConfig  `mapstructure:"tls"`
}

// Output writes packets to a Kafka topic.
type Output struct {
	name   string
	config Config
	wc     kafka.WriterConfig
	writer *kafka.Writer

	// Statistics
	sentPackets  atomic.Uint64
	sentMessages atomic.Uint64
	errorCount   atomic.Uint64
}

// New creates a new Kafka output.
func New() plugin.Output {
	return &Output{name: "kafka"}
}

// Name returns the plugin name.
func (o *Output) Name() string { return o.name }

// Init parses the configuration and prepares the writer settings.
func (o *Output) Init(cfgMap map[string]any) error {
	cfg := Config{
		PacketsPerMessage: defaultPacketsPerMessage,
		BatchSize:         defaultBatchSize,
		BatchTimeout:      defaultBatchTimeout,
		Compression:       defaultCompression,
		MaxAttempts:       defaultMaxAttempts,
	}
	if err := plugin.DecodeConfig(cfgMap, &cfg); err != nil {
		return err
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("%w: kafka output: brokers is required", core.ErrPluginInitFailed)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("%w: kafka output: topic is required", core.ErrPluginInitFailed)
	}
	if cfg.PacketsPerMessage < 1 {
		return fmt.Errorf("%w: kafka output: packets_per_message must be positive", core.ErrPluginInitFailed)
	}

	dialer, err := kafkaauth.Dialer(cfg.SASL, cfg.TLS)
	if err != nil {
		return fmt.Errorf("%w: kafka output: %v", core.ErrPluginInitFailed, err)
	}

	wc := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Dialer:       dialer,
		Balancer:     &kafka.Hash{}, // same key, same partition: keeps packet order
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}

	switch cfg.Compression {
	case "none", "":
		wc.CompressionCodec = nil
	case "gzip":
		wc.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		wc.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		wc.CompressionCodec = compress.Lz4.Codec()
	case "zstd":
		wc.CompressionCodec = compress.Zstd.Codec()
	default:
		return fmt.Errorf("%w: kafka output: invalid compression type: %s", core.ErrPluginInitFailed, cfg.Compression)
	}

	o.config = cfg
	o.wc = wc
	return nil
}

// Start creates the writer. Brokers are contacted lazily on the first send.
func (o *Output) Start(_ context.Context) error {
	o.writer = kafka.NewWriter(o.wc)
	slog.Info("kafka output started",
		"brokers", o.config.Brokers,
		"topic", o.config.Topic,
		"packets_per_message", o.config.PacketsPerMessage,
		"compression", o.config.Compression,
	)
	return nil
}

// Stop flushes pending messages and closes the writer.
func (o *Output) Stop(_ context.Context) error {
	if o.writer == nil {
		return nil
	}
	err := o.writer.Close()
	o.writer = nil
	if err != nil {
		slog.Error("error closing kafka writer", "error", err)
	}
	slog.Info("kafka output stopped",
		"packets", o.sentPackets.Load(),
		"messages", o.sentMessages.Load(),
		"errors", o.errorCount.Load(),
	)
	return err
}

// Send publishes the packets synchronously.
func (o *Output) Send(ctx context.Context, pkts []core.Packet) error {
	if o.writer == nil {
		return core.ErrPluginNotStarted
	}
	msgs := o.messages(pkts, time.Now())
	if len(msgs) == 0 {
		return nil
	}
	if err := o.writer.WriteMessages(ctx, msgs...); err != nil {
		o.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	o.sentPackets.Add(uint64(len(pkts)))
	o.sentMessages.Add(uint64(len(msgs)))
	return nil
}

// messages cuts pkts into messages. Values are copies since pkts is only
// valid during Send.
func (o *Output) messages(pkts []core.Packet, now time.Time) []kafka.Message {
	per := o.config.PacketsPerMessage
	msgs := make([]kafka.Message, 0, (len(pkts)+per-1)/per)
	var key []byte
	if o.config.Key != "" {
		key = []byte(o.config.Key)
	}
	for len(pkts) > 0 {
		n := min(len(pkts), per)
		msgs = append(msgs, kafka.Message{
			Key:   key,
			Value: core.PacketsToBytes(pkts[:n]),
			Time:  now,
			Headers: []kafka.Header{
				{Key: headerPackets, Value: []byte(strconv.Itoa(n))},
			},
		})
		pkts = pkts[n:]
	}
	return msgs
}
