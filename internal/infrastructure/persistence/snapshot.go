// Package persistence implements the durable completion snapshot backends.
package persistence

import (
	"context"
	"fmt"

	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// SnapshotStore is a snapshot repository holding resources that must be
// released on shutdown
type SnapshotStore interface {
	kitchen.SnapshotRepository
	Close() error
}

// NewSnapshotStore opens the backend selected by store. Only an unknown
// backend is an error; an unreachable Redis is logged and retried lazily.
func NewSnapshotStore(ctx context.Context, store *config.StoreConfig, redisCfg *config.RedisConfig, log *zap.Logger) (SnapshotStore, error) {
	switch store.Backend {
	case config.StoreBackendFile, "":
		return NewFileSnapshotRepository(store.Path), nil
	case config.StoreBackendRedis:
		return NewRedisSnapshotRepository(ctx, RedisConfig{
			Host:     redisCfg.Host,
			Port:     redisCfg.Port,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		}, store.RedisKey, log), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", store.Backend)
	}
}
