package detection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTransactionsTopic carries one message per posted ledger transaction.
const DefaultTransactionsTopic = "ledger.transaction.posted"

// MessageReader is the subset of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Submitter accepts a transaction for asynchronous checking.
type Submitter interface {
	CheckTransaction(ctx context.Context, transactionID string) error
}

// ConsumerConfig configures the Kafka intake.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer feeds posted-transaction events into per-transaction checks.
type Consumer struct {
	reader    MessageReader
	submitter Submitter
	topic     string
	logger    *slog.Logger
}

// NewKafkaReader builds a consumer-group reader for cfg.
func NewKafkaReader(cfg ConsumerConfig) *kafka.Reader {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTransactionsTopic
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: 30 * time.Second,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		MaxBytes:       10e6, // 10MB
	})
}

// NewConsumer creates a consumer over reader.
func NewConsumer(reader MessageReader, submitter Submitter, topic string, logger *slog.Logger) *Consumer {
	if topic == "" {
		topic = DefaultTransactionsTopic
	}
	return &Consumer{reader: reader, submitter: submitter, topic: topic, logger: logger}
}

type transactionPosted struct {
	TransactionID string `json:"transaction_id"`
}

// Start reads until ctx is cancelled. Call in a goroutine.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("transaction intake consumer started", "topic", c.topic)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("transaction intake consumer stopped")
				return
			}
			c.logger.Error("failed to fetch kafka message", "error", err)
			consumerMessages.WithLabelValues("error").Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.Handle(ctx, msg); err != nil {
			// Not committed; redelivered after a rebalance or restart.
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to commit kafka message", "offset", msg.Offset, "error", err)
		}
	}
}

// Handle decodes one message and submits its transaction. Malformed messages
// are dropped (nil error) so they are committed and not redelivered.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	if msg.Topic != "" && msg.Topic != c.topic {
		return nil
	}

	var payload transactionPosted
	if err := json.Unmarshal(msg.Value, &payload); err != nil || payload.TransactionID == "" {
		c.logger.WarnContext(ctx, "dropping malformed transaction event",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		consumerMessages.WithLabelValues("invalid").Inc()
		return nil
	}

	if err := c.submitter.CheckTransaction(ctx, payload.TransactionID); err != nil {
		c.logger.ErrorContext(ctx, "failed to submit transaction check",
			"transaction_id", payload.TransactionID, "error", err)
		consumerMessages.WithLabelValues("error").Inc()
		return err
	}
	consumerMessages.WithLabelValues("submitted").Inc()
	return nil
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
