package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Cache is a thin handle over the shared redis client for concerns that
// drive the client directly (rate limiting, health checks).
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
