package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultSnapshotKey is the Redis key used when none is configured
const DefaultSnapshotKey = "kds:completed_orders"

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisSnapshotRepository stores the completion snapshot as one JSON document
// under a single Redis key
type RedisSnapshotRepository struct {
	client     *redis.Client
	ownsClient bool
	key        string
}

// NewRedisSnapshotRepository creates a client and pings Redis. An unreachable
// server is logged, not returned: the client reconnects on the next command,
// and until then Load and Save fail like any other backend error.
func NewRedisSnapshotRepository(ctx context.Context, cfg RedisConfig, key string, log *zap.Logger) *RedisSnapshotRepository {
	if log == nil {
		log = zap.NewNop()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("Redis unreachable, completion snapshot unavailable until it recovers",
			zap.String("addr", addr),
			zap.Error(err),
		)
	}

	repo := NewRedisSnapshotRepositoryWithClient(client, key)
	repo.ownsClient = true
	return repo
}

// NewRedisSnapshotRepositoryWithClient uses an existing client. The caller
// keeps ownership of the client.
func NewRedisSnapshotRepositoryWithClient(client *redis.Client, key string) *RedisSnapshotRepository {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisSnapshotRepository{client: client, key: key}
}

// Load reads the snapshot. A missing key returns kitchen.ErrSnapshotNotFound.
func (r *RedisSnapshotRepository) Load(ctx context.Context) (map[string][]string, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, kitchen.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("read completion snapshot: %w", err)
	}
	return decodeSnapshot(data)
}

// Save overwrites the snapshot key
func (r *RedisSnapshotRepository) Save(ctx context.Context, snapshot map[string][]string) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", kitchen.ErrPersistence, err)
	}
	return nil
}

// Close closes the client if this repository created it
func (r *RedisSnapshotRepository) Close() error {
	if !r.ownsClient {
		return nil
	}
	return r.client.Close()
}
