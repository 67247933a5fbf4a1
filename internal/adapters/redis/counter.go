package redis

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Counter is the fast-path capacity counter, one key per event. It
// avoids taking the durable row lock on every booking attempt; a
// negative decrement result is a scarcity signal that routes the caller
// into reconciliation, never a final answer.
type Counter struct {
	client *redis.Client
}

func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func slotsKey(eventID uuid.UUID) string {
	return "event:" + eventID.String() + ":slots"
}

func (c *Counter) Init(ctx context.Context, eventID uuid.UUID, value int) error {
	return c.client.Set(ctx, slotsKey(eventID), value, 0).Err()
}

func (c *Counter) Get(ctx context.Context, eventID uuid.UUID) (int, bool, error) {
	val, err := c.client.Get(ctx, slotsKey(eventID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (c *Counter) DecrBy(ctx context.Context, eventID uuid.UUID, n int) (int, error) {
	val, err := c.client.DecrBy(ctx, slotsKey(eventID), int64(n)).Result()
	return int(val), err
}

func (c *Counter) IncrBy(ctx context.Context, eventID uuid.UUID, n int) (int, error) {
	val, err := c.client.IncrBy(ctx, slotsKey(eventID), int64(n)).Result()
	return int(val), err
}

func (c *Counter) Set(ctx context.Context, eventID uuid.UUID, value int) error {
	return c.client.Set(ctx, slotsKey(eventID), value, 0).Err()
}
