package redis

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// HoldStore keeps one expiring key per held seat, value = owner id.
// Expiry does the releasing for abandoned sessions; every write that
// depends on current ownership goes through a Lua script so the check
// and the write are one atomic step.
type HoldStore struct {
	client *redis.Client
}

func NewHoldStore(client *redis.Client) *HoldStore {
	return &HoldStore{client: client}
}

// Claim grants the seat when it is free or already owned by the caller,
// refreshing the TTL either way.
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 or redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
	return 1
end
return 0
`)

// Extend renews the TTL only when the stored owner still matches. A
// hold that expired and was re-claimed between heartbeats stays with
// its new owner.
var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('EXPIRE', KEYS[1], ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

func holdKey(eventID uuid.UUID, seatNo int) string {
	return "event:" + eventID.String() + ":hold:" + strconv.Itoa(seatNo)
}

func holderKey(eventID uuid.UUID, ownerID string) string {
	return "event:" + eventID.String() + ":holder:" + ownerID
}

func ttlSeconds(ttl time.Duration) int {
	secs := int(ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (h *HoldStore) Claim(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string, ttl time.Duration) (bool, error) {
	res, err := claimScript.Run(ctx, h.client, []string{holdKey(eventID, seatNo)}, ownerID, ttlSeconds(ttl)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (h *HoldStore) Extend(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string, ttl time.Duration) (bool, error) {
	res, err := extendScript.Run(ctx, h.client, []string{holdKey(eventID, seatNo)}, ownerID, ttlSeconds(ttl)).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (h *HoldStore) Release(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string) (bool, error) {
	res, err := releaseScript.Run(ctx, h.client, []string{holdKey(eventID, seatNo)}, ownerID).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Delete removes a hold regardless of owner. Used when a seat is
// durably booked and any leftover hold is moot.
func (h *HoldStore) Delete(ctx context.Context, eventID uuid.UUID, seatNo int) error {
	return h.client.Del(ctx, holdKey(eventID, seatNo)).Err()
}

// OwnerSeats returns the seats this owner believes it holds, from the
// per-owner index set. Entries may already have expired; callers must
// re-validate through the compare-then-act scripts.
func (h *HoldStore) OwnerSeats(ctx context.Context, eventID uuid.UUID, ownerID string) ([]int, error) {
	members, err := h.client.SMembers(ctx, holderKey(eventID, ownerID)).Result()
	if err != nil {
		return nil, err
	}
	seats := make([]int, 0, len(members))
	for _, m := range members {
		if n, err := strconv.Atoi(m); err == nil && n > 0 {
			seats = append(seats, n)
		}
	}
	return seats, nil
}

func (h *HoldStore) TrackOwner(ctx context.Context, eventID uuid.UUID, ownerID string, seatNos []int) error {
	if len(seatNos) == 0 {
		return nil
	}
	key := holderKey(eventID, ownerID)
	members := make([]interface{}, len(seatNos))
	for i, n := range seatNos {
		members[i] = strconv.Itoa(n)
	}
	pipe := h.client.Pipeline()
	pipe.SAdd(ctx, key, members...)
	// The index outlives the holds slightly so disconnect cleanup and
	// heartbeats can still find them.
	pipe.Expire(ctx, key, time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (h *HoldStore) UntrackOwner(ctx context.Context, eventID uuid.UUID, ownerID string, seatNos []int) error {
	if len(seatNos) == 0 {
		return nil
	}
	members := make([]interface{}, len(seatNos))
	for i, n := range seatNos {
		members[i] = strconv.Itoa(n)
	}
	return h.client.SRem(ctx, holderKey(eventID, ownerID), members...).Err()
}

// HeldSeats derives the live held set from the hold keys themselves, so
// expired holds drop out with no bookkeeping.
func (h *HoldStore) HeldSeats(ctx context.Context, eventID uuid.UUID) ([]int, error) {
	pattern := "event:" + eventID.String() + ":hold:*"
	var seats []int
	iter := h.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":")
		if idx < 0 {
			continue
		}
		if n, err := strconv.Atoi(key[idx+1:]); err == nil && n > 0 {
			seats = append(seats, n)
		}
	}
	return seats, iter.Err()
}
