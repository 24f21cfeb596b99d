// Package bus provides message bus implementations for send_message actions:
// an in-process channel bus, NATS, or delegation to the sensor store's own
// pub/sub.
package bus

import (
	"context"
	"fmt"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// New creates a message bus based on configuration. The sensor store is used
// when the bus type delegates to the store's own pub/sub.
func New(cfg domain.BusConfig, store domain.SensorStore) (domain.MessageBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	case "store":
		if store == nil {
			return nil, fmt.Errorf("store bus requires a sensor store")
		}
		return &storeBus{store: store}, nil
	default:
		return nil, fmt.Errorf("unsupported bus type: %s", cfg.Type)
	}
}

// storeBus forwards publish/subscribe to the sensor store.
type storeBus struct {
	store domain.SensorStore
}

func (b *storeBus) Publish(ctx context.Context, channel, message string) error {
	return b.store.Publish(ctx, channel, message)
}

func (b *storeBus) Subscribe(ctx context.Context, channel string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.store.Subscribe(ctx, channel, handler)
}

func (b *storeBus) Ping(ctx context.Context) error { return b.store.Ping(ctx) }

// Close is a no-op; the store owns its connection.
func (b *storeBus) Close() error { return nil }
