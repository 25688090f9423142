package queue

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client for queue operations
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient wraps an existing Redis connection. The caller keeps ownership of rdb.
func NewClient(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{
		rdb:    rdb,
		logger: logger,
	}
}

// GetRedisClient returns the underlying Redis client for direct operations
func (c *Client) GetRedisClient() *redis.Client {
	return c.rdb
}
