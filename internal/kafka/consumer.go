package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

// NotificationHandler delivers one decoded notification. A returned error is
// logged and the message is still committed.
type NotificationHandler func(ctx context.Context, n domain.Notification) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NotificationConsumer reads the notifications topic and commits each offset
// once the message has been handled or found undecodable.
type NotificationConsumer struct {
	reader messageReader
	logger *slog.Logger
}

func NewNotificationConsumer(brokers []string, groupID, topic string, logger *slog.Logger) *NotificationConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		Topic:             topic,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	})
	return newNotificationConsumer(reader, logger)
}

func newNotificationConsumer(reader messageReader, logger *slog.Logger) *NotificationConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationConsumer{reader: reader, logger: logger}
}

func (c *NotificationConsumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run blocks until ctx is done or the broker fails a fetch or commit.
func (c *NotificationConsumer) Run(ctx context.Context, handle NotificationHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		c.dispatch(ctx, msg, handle)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *NotificationConsumer) dispatch(ctx context.Context, msg kafka.Message, handle NotificationHandler) {
	n, err := DecodeNotification(msg)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping undecodable notification",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()))
		return
	}
	if n.Type == "" {
		c.logger.WarnContext(ctx, "skipping untyped notification",
			slog.String("id", n.ID),
			slog.Int64("offset", msg.Offset))
		return
	}

	if err := handle(ctx, n); err != nil {
		c.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("id", n.ID),
			slog.String("type", string(n.Type)),
			slog.String("error", err.Error()))
	}
}

func DecodeNotification(msg kafka.Message) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return n, fmt.Errorf("decode notification at offset %d: %w", msg.Offset, err)
	}
	return n, nil
}
