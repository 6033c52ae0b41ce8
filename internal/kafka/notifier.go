package kafka

import (
	"context"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

type publisher interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
}

// Notifier publishes checkout notifications to a topic, keyed by session.
type Notifier struct {
	producer publisher
	topic    string
}

func NewNotifier(producer *Producer, topic string) *Notifier {
	return &Notifier{producer: producer, topic: topic}
}

func (n *Notifier) Publish(ctx context.Context, notification domain.Notification) error {
	key := notification.SessionID
	if key == "" {
		key = notification.ID
	}
	return n.producer.Publish(ctx, n.topic, key, notification)
}
