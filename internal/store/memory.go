package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// MemoryStore is an in-process SensorStore used by tests and single-node
// runs without redis.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]domain.Value
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]domain.Value),
		subs:   make(map[string][]*memorySubscription),
	}
}

// GetMany returns current values; missing keys are omitted.
func (s *MemoryStore) GetMany(_ context.Context, keys []string) (map[string]domain.Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Value, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// SetMany stores the batch.
func (s *MemoryStore) SetMany(_ context.Context, values map[string]domain.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

// Publish delivers the message synchronously to every subscriber.
func (s *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	s.mu.RLock()
	subs := append([]*memorySubscription{}, s.subs[channel]...)
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.handler(ctx, channel, message)
	}
	return nil
}

// Subscribe registers a handler for a channel.
func (s *MemoryStore) Subscribe(_ context.Context, channel string, handler domain.MessageHandler) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub := &memorySubscription{id: uuid.New().String(), store: s, channel: channel, handler: handler}
	s.subs[channel] = append(s.subs[channel], sub)
	return sub, nil
}

// Ping always succeeds; it does not report a store that has been closed.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close drops all values and subscriptions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.values = make(map[string]domain.Value)
	s.subs = make(map[string][]*memorySubscription)
	return nil
}

// Snapshot copies the full current contents; test helper.
func (s *MemoryStore) Snapshot() map[string]domain.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

type memorySubscription struct {
	id      string
	store   *MemoryStore
	channel string
	handler domain.MessageHandler
}

func (s *memorySubscription) Unsubscribe() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	subs := s.store.subs[s.channel]
	for i, sub := range subs {
		if sub.id == s.id {
			s.store.subs[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memorySubscription) Channel() string { return s.channel }
