// Package holds implements the ephemeral per-seat soft locks that back
// the seat picker UI. Holds are advisory only: they block competing
// holds, never the authoritative booking path, and the cost of an
// abandoned session is bounded by a short TTL.
package holds

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store"
)

// Broadcaster fans the current held-seat set out to every viewer of the
// event after each mutation.
type Broadcaster interface {
	BroadcastHolds(eventID uuid.UUID, held []int)
}

const DefaultTTL = 5 * time.Second

type Registry struct {
	store       store.HoldStore
	ttl         time.Duration
	broadcaster Broadcaster
	logger      observability.Logger
}

func NewRegistry(s store.HoldStore, ttl time.Duration, b Broadcaster, logger observability.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{store: s, ttl: ttl, broadcaster: b, logger: logger}
}

// SetHolds reconciles the owner's held seats with the desired set:
// seats not held by anyone else are granted (refreshing ones the owner
// already has), seats owned by someone else come back as conflicting,
// and previously held seats absent from the desired set are released —
// but only if still owned, so a seat that expired and was re-claimed by
// another viewer is left alone.
func (r *Registry) SetHolds(ctx context.Context, eventID uuid.UUID, ownerID string, desired []int) (granted, conflicting []int, err error) {
	prev, err := r.store.OwnerSeats(ctx, eventID, ownerID)
	if err != nil {
		return nil, nil, err
	}

	want := dedupe(desired)
	grantedSet := make(map[int]struct{}, len(want))
	for _, seat := range want {
		ok, err := r.store.Claim(ctx, eventID, seat, ownerID, r.ttl)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			granted = append(granted, seat)
			grantedSet[seat] = struct{}{}
		} else {
			conflicting = append(conflicting, seat)
		}
	}

	var released []int
	for _, seat := range prev {
		if _, keep := grantedSet[seat]; keep {
			continue
		}
		if _, err := r.store.Release(ctx, eventID, seat, ownerID); err != nil {
			return nil, nil, err
		}
		released = append(released, seat)
	}

	if err := r.store.TrackOwner(ctx, eventID, ownerID, granted); err != nil {
		return nil, nil, err
	}
	if err := r.store.UntrackOwner(ctx, eventID, ownerID, released); err != nil {
		return nil, nil, err
	}

	sort.Ints(granted)
	sort.Ints(conflicting)
	r.broadcast(ctx, eventID)
	return granted, conflicting, nil
}

// Heartbeat extends the TTL of every seat the owner still holds.
// Extension is compare-then-extend: a hold that expired and was
// reassigned between ticks is never stolen back.
func (r *Registry) Heartbeat(ctx context.Context, eventID uuid.UUID, ownerID string) error {
	seats, err := r.store.OwnerSeats(ctx, eventID, ownerID)
	if err != nil {
		return err
	}
	var kept []int
	for _, seat := range seats {
		ok, err := r.store.Extend(ctx, eventID, seat, ownerID, r.ttl)
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, seat)
		} else {
			// Lost to expiry; drop it from the index.
			if err := r.store.UntrackOwner(ctx, eventID, ownerID, []int{seat}); err != nil {
				return err
			}
		}
	}
	return r.store.TrackOwner(ctx, eventID, ownerID, kept)
}

// ClearHolds releases everything the owner holds; used on disconnect
// and on explicit cancel.
func (r *Registry) ClearHolds(ctx context.Context, eventID uuid.UUID, ownerID string) error {
	seats, err := r.store.OwnerSeats(ctx, eventID, ownerID)
	if err != nil {
		return err
	}
	for _, seat := range seats {
		if _, err := r.store.Release(ctx, eventID, seat, ownerID); err != nil {
			return err
		}
	}
	if err := r.store.UntrackOwner(ctx, eventID, ownerID, seats); err != nil {
		return err
	}
	r.broadcast(ctx, eventID)
	return nil
}

func (r *Registry) HeldSeats(ctx context.Context, eventID uuid.UUID) ([]int, error) {
	held, err := r.store.HeldSeats(ctx, eventID)
	if err != nil {
		return nil, err
	}
	sort.Ints(held)
	return held, nil
}

func (r *Registry) broadcast(ctx context.Context, eventID uuid.UUID) {
	held, err := r.store.HeldSeats(ctx, eventID)
	if err != nil {
		r.logger.WithField("event_id", eventID).Warn("held-seat broadcast skipped: ", err)
		return
	}
	sort.Ints(held)
	r.broadcaster.BroadcastHolds(eventID, held)
}

func dedupe(seats []int) []int {
	seen := make(map[int]struct{}, len(seats))
	out := make([]int, 0, len(seats))
	for _, n := range seats {
		if n <= 0 {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
