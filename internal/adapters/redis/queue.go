package redis

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Queue is the per-event FIFO waitlist. It only decides promotion order;
// the durable waiting rows remain the truth, so a lost list degrades to
// the promoter's database fallback rather than losing anyone's place
// permanently.
type Queue struct {
	client *redis.Client
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func waitlistKey(eventID uuid.UUID) string {
	return "event:" + eventID.String() + ":waitlist"
}

// Push appends the booking and returns the new list length, which is
// the entry's waiting number.
func (q *Queue) Push(ctx context.Context, eventID uuid.UUID, bookingID uuid.UUID) (int, error) {
	n, err := q.client.RPush(ctx, waitlistKey(eventID), bookingID.String()).Result()
	return int(n), err
}

func (q *Queue) Pop(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	val, err := q.client.LPop(ctx, waitlistKey(eventID)).Result()
	if err == redis.Nil {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// A garbled entry is dropped; the durable fallback covers it.
		return uuid.Nil, nil
	}
	return id, nil
}

func (q *Queue) Remove(ctx context.Context, eventID uuid.UUID, bookingID uuid.UUID) error {
	return q.client.LRem(ctx, waitlistKey(eventID), 0, bookingID.String()).Err()
}
