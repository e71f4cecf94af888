package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/segmentio/kafka-go"

	"firestige.xyz/tsswitch/internal/config"
	"firestige.xyz/tsswitch/internal/kafkaauth"
)

const (
	defaultCommandTTL = 5 * time.Minute
	fetchRetryDelay   = 5 * time.Second
)

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "node-01",
//	  "command":    "input_select",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { "index": 1 }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node hostname or "*" for broadcast
	Command   string          `json:"command"`    // Command name (e.g., "input_next")
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing and deduplication
	Payload   json.RawMessage `json:"payload"`    // Command-specific parameters
}

// KafkaResponse is published to the response topic for every executed command.
type KafkaResponse struct {
	Version   string     `json:"version"`
	Source    string     `json:"source"` // hostname of the responding node
	Command   string     `json:"command"`
	RequestID string     `json:"request_id"`
	Timestamp time.Time  `json:"timestamp"`
	Result    any        `json:"result,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
}

// messageReader is the subset of kafka.Reader used by the consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// messageWriter is the subset of kafka.Writer used for responses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	ccConfig config.CommandChannelConfig
	hostname string // local node hostname for target matching
	reader   messageReader
	writer   messageWriter // nil when responses are disabled
	handler  *CommandHandler
	ttl      time.Duration // command TTL for stale-command rejection
	seen     *cache.Cache  // request IDs already executed
}

// NewKafkaCommandConsumer creates a new Kafka command consumer.
func NewKafkaCommandConsumer(ccConfig config.CommandChannelConfig, hostname string, handler *CommandHandler) (*KafkaCommandConsumer, error) {
	kc := ccConfig.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if kc.GroupID == "" {
		return nil, fmt.Errorf("group_id is required")
	}

	ttl := defaultCommandTTL
	if ccConfig.CommandTTL != "" {
		var err error
		ttl, err = time.ParseDuration(ccConfig.CommandTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid command_ttl %q: %w", ccConfig.CommandTTL, err)
		}
	}

	var startOffset int64
	switch kc.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	case "latest", "":
		startOffset = kafka.LastOffset
	default:
		return nil, fmt.Errorf("invalid auto_offset_reset %q", kc.AutoOffsetReset)
	}

	dialer, err := kafkaauth.Dialer(kc.SASL, kc.TLS)
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		Dialer:         dialer,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        1 * time.Second,
	})

	var writer messageWriter
	if kc.ResponseTopic != "" {
		writer = kafka.NewWriter(kafka.WriterConfig{
			Brokers:      kc.Brokers,
			Topic:        kc.ResponseTopic,
			Dialer:       dialer,
			Balancer:     &kafka.Hash{},
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
		})
	}

	return newKafkaCommandConsumer(ccConfig, hostname, handler, ttl, reader, writer), nil
}

func newKafkaCommandConsumer(cc config.CommandChannelConfig, hostname string, handler *CommandHandler,
	ttl time.Duration, reader messageReader, writer messageWriter) *KafkaCommandConsumer {
	return &KafkaCommandConsumer{
		ccConfig: cc,
		hostname: hostname,
		reader:   reader,
		writer:   writer,
		handler:  handler,
		ttl:      ttl,
		seen:     cache.New(ttl, 2*ttl),
	}
}

// Start starts consuming commands from Kafka.
// Blocks until context is cancelled or an unrecoverable error occurs.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	slog.Info("kafka command consumer started",
		"brokers", c.ccConfig.Kafka.Brokers,
		"topic", c.ccConfig.Kafka.Topic,
		"group_id", c.ccConfig.Kafka.GroupID,
		"response_topic", c.ccConfig.Kafka.ResponseTopic,
		"hostname", c.hostname,
		"ttl", c.ttl,
	)

	for {
		if ctx.Err() != nil {
			slog.Info("kafka command consumer stopped", "reason", ctx.Err())
			return nil
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				slog.Info("kafka command consumer stopped", "reason", ctx.Err())
				return nil
			}
			slog.Error("failed to fetch kafka message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryDelay):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			slog.Error("failed to process command",
				"error", err,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			slog.Error("failed to commit message", "error", err)
		}
	}
}

// processMessage processes a single Kafka message as a KafkaCommand.
func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}

	// Skip if not for this node and not broadcast
	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		slog.Debug("skipping command not targeting this node",
			"target", kCmd.Target,
			"hostname", c.hostname,
			"request_id", kCmd.RequestID,
		)
		return nil
	}

	if !kCmd.Timestamp.IsZero() && time.Since(kCmd.Timestamp) > c.ttl {
		slog.Warn("skipping stale command",
			"command", kCmd.Command,
			"request_id", kCmd.RequestID,
			"timestamp", kCmd.Timestamp,
			"age", time.Since(kCmd.Timestamp),
			"ttl", c.ttl,
		)
		return nil
	}

	if kCmd.RequestID == "" {
		kCmd.RequestID = uuid.NewString()
	} else if err := c.seen.Add(kCmd.RequestID, struct{}{}, cache.DefaultExpiration); err != nil {
		slog.Warn("skipping duplicate command", "command", kCmd.Command, "request_id", kCmd.RequestID)
		return nil
	}

	slog.Info("received kafka command",
		"command", kCmd.Command,
		"request_id", kCmd.RequestID,
		"target", kCmd.Target,
		"version", kCmd.Version,
	)

	cmd := Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	}
	response := c.handler.Handle(ctx, cmd)

	if err := c.respond(ctx, kCmd, response); err != nil {
		slog.Error("failed to publish command response", "request_id", kCmd.RequestID, "error", err)
	}

	if response.Error != nil {
		slog.Error("command execution failed",
			"method", cmd.Method,
			"request_id", cmd.ID,
			"error_code", response.Error.Code,
			"error_message", response.Error.Message,
		)
		return fmt.Errorf("command failed: %s", response.Error.Message)
	}

	slog.Info("command executed successfully",
		"method", cmd.Method,
		"request_id", cmd.ID,
	)
	return nil
}

// respond publishes the response when a response topic is configured.
func (c *KafkaCommandConsumer) respond(ctx context.Context, kCmd KafkaCommand, resp Response) error {
	if c.writer == nil {
		return nil
	}
	value, err := json.Marshal(KafkaResponse{
		Version:   "v1",
		Source:    c.hostname,
		Command:   kCmd.Command,
		RequestID: kCmd.RequestID,
		Timestamp: time.Now().UTC(),
		Result:    resp.Result,
		Error:     resp.Error,
	})
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	return c.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(kCmd.RequestID),
		Value: value,
	})
}

// Stop closes the reader and the response writer.
// Always nils them to prevent double-close, even if Close() returns an error.
func (c *KafkaCommandConsumer) Stop() error {
	var errs []error
	if c.reader != nil {
		reader := c.reader
		c.reader = nil
		slog.Info("closing kafka command consumer")
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka reader: %w", err))
		}
	}
	if c.writer != nil {
		writer := c.writer
		c.writer = nil
		if err := writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close kafka writer: %w", err))
		}
	}
	return errors.Join(errs...)
}
