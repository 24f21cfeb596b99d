package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// RedisStore implements SensorStore on a redis instance. Sensor keys are
// namespaced under a prefix so the store can be shared.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and verifies the redis backend.
func NewRedisStore(cfg domain.StoreConfig) (*RedisStore, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: cfg.KeyPrefix}, nil
}

// GetMany returns the current values for keys via a single MGET; missing
// keys are omitted from the result.
func (s *RedisStore) GetMany(ctx context.Context, keys []string) (map[string]domain.Value, error) {
	if len(keys) == 0 {
		return map[string]domain.Value{}, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}

	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}

	out := make(map[string]domain.Value, len(keys))
	for i, v := range vals {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = domain.ParseValue(raw)
	}
	return out, nil
}

// SetMany writes the batch through one pipeline; each key is set atomically,
// cross-key ordering is unspecified.
func (s *RedisStore) SetMany(ctx context.Context, values map[string]domain.Value) error {
	if len(values) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for k, v := range values {
		pipe.Set(ctx, s.prefix+k, v.Raw, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipelined set: %w", err)
	}
	return nil
}

// Publish sends a message on a pub/sub channel.
func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	return s.client.Publish(ctx, s.prefix+channel, message).Err()
}

// Subscribe registers a handler on a pub/sub channel.
func (s *RedisStore) Subscribe(ctx context.Context, channel string, handler domain.MessageHandler) (domain.Subscription, error) {
	pubsub := s.client.Subscribe(ctx, s.prefix+channel)

	// Force the subscription to establish before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, channel: channel}
	go func() {
		for msg := range pubsub.Channel() {
			handler(ctx, strings.TrimPrefix(msg.Channel, s.prefix), msg.Payload)
		}
	}()
	return sub, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	slog.Debug("closing redis store")
	return s.client.Close()
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	channel string
}

func (s *redisSubscription) Unsubscribe() error { return s.pubsub.Close() }
func (s *redisSubscription) Channel() string    { return s.channel }
