package domain

import "context"

// MessageBus carries send_message traffic. Backed by in-process channels,
// NATS, or the store's own pub/sub.
type MessageBus interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// BusMessage is the envelope used by bus implementations.
type BusMessage struct {
	ID        string `json:"id"`
	Channel   string `json:"channel"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}
