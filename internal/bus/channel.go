package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// ChannelBus implements MessageBus using Go channels; the default for
// single-process deployments.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	closed        bool
}

type channelSubscription struct {
	id      string
	channel string
	handler domain.MessageHandler
	msgCh   chan *domain.BusMessage
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a new channel-based bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
	}
}

// Publish sends a message to a channel. Delivery is non-blocking; a
// subscriber with a full queue misses the message.
func (b *ChannelBus) Publish(_ context.Context, channel, message string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	msg := &domain.BusMessage{
		ID:        uuid.New().String(),
		Channel:   channel,
		Payload:   message,
		Timestamp: time.Now().UnixNano(),
	}
	subs := b.subscriptions[channel]
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.msgCh <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers a handler for a channel.
func (b *ChannelBus) Subscribe(ctx context.Context, channel string, handler domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		channel: channel,
		handler: handler,
		msgCh:   make(chan *domain.BusMessage, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go sub.loop()
	b.subscriptions[channel] = append(b.subscriptions[channel], sub)
	return sub, nil
}

func (s *channelSubscription) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			if msg != nil {
				s.handler(s.ctx, msg.Channel, msg.Payload)
			}
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels all subscriptions.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.subscriptions = make(map[string][]*channelSubscription)
	return nil
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subscriptions[s.channel]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subscriptions[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// Channel returns the subscribed channel name.
func (s *channelSubscription) Channel() string { return s.channel }
