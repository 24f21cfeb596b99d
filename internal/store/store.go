// Package store provides SensorStore implementations: redis for deployments
// and an in-memory store for tests and single-process runs.
package store

import (
	"fmt"

	"github.com/pulsar-rules/pulsar/internal/domain"
)

// New creates a sensor store from configuration.
func New(cfg domain.StoreConfig) (domain.SensorStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "redis", "":
		return NewRedisStore(cfg)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}
