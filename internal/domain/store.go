package domain

import (
	"context"
	"strconv"
)

// Value is a sensor reading. The store carries strings on the wire; numeric
// payloads are parsed once at the read boundary.
type Value struct {
	Raw     string  `json:"raw"`
	Num     float64 `json:"num"`
	Numeric bool    `json:"numeric"`
}

// NumValue builds a numeric Value.
func NumValue(f float64) Value {
	return Value{Raw: strconv.FormatFloat(f, 'g', -1, 64), Num: f, Numeric: true}
}

// StringValue builds a non-numeric Value.
func StringValue(s string) Value {
	return Value{Raw: s}
}

// ParseValue interprets a wire string, keeping the raw form either way.
func ParseValue(s string) Value {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Value{Raw: s, Num: f, Numeric: true}
	}
	return Value{Raw: s}
}

// MessageHandler receives published messages.
type MessageHandler func(ctx context.Context, channel, message string)

// Subscription is an active channel subscription.
type Subscription interface {
	Unsubscribe() error
	Channel() string
}

// SensorStore is the capability the orchestrator consumes from the external
// key-value store.
type SensorStore interface {
	// GetMany returns a current-value snapshot; missing keys are omitted.
	GetMany(ctx context.Context, keys []string) (map[string]Value, error)

	// SetMany writes the batch; atomic per key, cross-key order unspecified.
	SetMany(ctx context.Context, values map[string]Value) error

	// Publish sends a message on a named channel.
	Publish(ctx context.Context, channel, message string) error

	// Subscribe registers a handler for a channel.
	Subscribe(ctx context.Context, channel string, handler MessageHandler) (Subscription, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Lifecycle.
	Close() error
}

// TimestampedStore is implemented by stores that carry per-key timestamps;
// when absent the orchestrator uses its own clock.
type TimestampedStore interface {
	GetWithTimestamp(ctx context.Context, key string) (Value, int64, error)
}
