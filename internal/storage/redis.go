package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jwebster45206/consequence-engine/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// DefaultSnapshotKey is the Redis key holding the engine snapshot
const DefaultSnapshotKey = "consequence-engine:snapshot"

// RedisStorage implements SnapshotStore using a single Redis key
type RedisStorage struct {
	client *redis.Client
	logger *slog.Logger
	key    string
}

// Ensure RedisStorage implements SnapshotStore interface
var _ storage.SnapshotStore = (*RedisStorage)(nil)

// NewRedisClient builds a client from either a redis:// URL or a bare host:port
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if strings.Contains(redisURL, "://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedisStorage creates a new Redis snapshot store
func NewRedisStorage(client *redis.Client, key string, logger *slog.Logger) *RedisStorage {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisStorage{
		client: client,
		logger: logger,
		key:    key,
	}
}

// Health and lifecycle methods

func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Close() error {
	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis connection", "error", err)
		return err
	}
	r.logger.Info("Redis connection closed")
	return nil
}

// WaitForConnection waits for Redis to become available (used during startup)
func (r *RedisStorage) WaitForConnection(ctx context.Context) error {
	maxRetries := 30
	retryDelay := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		if err := r.Ping(ctx); err != nil {
			r.logger.Debug("Redis not ready yet", "error", err, "attempt", i+1)

			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while waiting for redis: %w", ctx.Err())
			case <-time.After(retryDelay):
				continue
			}
		}

		r.logger.Info("Redis connection established")
		return nil
	}

	return fmt.Errorf("redis did not become available after %d attempts", maxRetries)
}

// Snapshot operations

func (r *RedisStorage) SaveSnapshot(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		r.logger.Error("Failed to save snapshot", "key", r.key, "error", err)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	r.logger.Debug("Snapshot saved", "key", r.key, "bytes", len(data))
	return nil
}

func (r *RedisStorage) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.logger.Info("No snapshot found", "key", r.key)
			return nil, nil
		}
		r.logger.Error("Failed to load snapshot", "key", r.key, "error", err)
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return data, nil
}
