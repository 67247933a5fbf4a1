// Package waitlist turns freed capacity into promotions. Every seat
// that moves from booked to cancelled flows through here, inside the
// same transaction that cancelled it, so the waitlist drains in strict
// arrival order over each batch of freed seats.
package waitlist

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seatwave/seatwave/internal/domain"
	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store"
)

type Broadcaster interface {
	BroadcastHolds(eventID uuid.UUID, held []int)
	BroadcastBooked(eventID uuid.UUID, seats []int)
	BroadcastFreed(eventID uuid.UUID, seats []int)
}

type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

type Auditor interface {
	Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

// Promotion records one waiting booking served from freed capacity.
type Promotion struct {
	BookingID uuid.UUID
	UserID    uuid.UUID
	Seats     []int
}

// CancelResult reports what a cancellation freed and who it promoted.
type CancelResult struct {
	BookingID uuid.UUID
	Freed     []int
	Promoted  []Promotion
}

type Promoter struct {
	store       store.Store
	counter     store.Counter
	queue       store.Queue
	holds       store.HoldStore
	broadcaster Broadcaster
	publisher   Publisher
	audit       Auditor
	logger      observability.Logger
}

func NewPromoter(
	st store.Store,
	counter store.Counter,
	queue store.Queue,
	holdStore store.HoldStore,
	broadcaster Broadcaster,
	publisher Publisher,
	audit Auditor,
	logger observability.Logger,
) *Promoter {
	return &Promoter{
		store:       st,
		counter:     counter,
		queue:       queue,
		holds:       holdStore,
		broadcaster: broadcaster,
		publisher:   publisher,
		audit:       audit,
		logger:      logger,
	}
}

// Cancel cancels a whole booking. Cancelling an already-cancelled
// booking is an idempotent no-op; cancelling a waiting booking just
// removes it from the waitlist. For a confirmed booking every live seat
// is freed and the waitlist drains against the freed capacity.
func (p *Promoter) Cancel(ctx context.Context, bookingID uuid.UUID) (CancelResult, error) {
	res := CancelResult{BookingID: bookingID}
	var eventID uuid.UUID
	var wasWaiting bool

	timer := prometheus.NewTimer(observability.DBTxDuration)
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.BookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		eventID = b.EventID
		if b.Status == domain.BookingCancelled {
			return nil
		}
		if err := tx.MarkCancelled(ctx, bookingID); err != nil {
			return err
		}
		if b.Status == domain.BookingWaiting {
			wasWaiting = true
			return nil
		}

		freed, err := tx.CancelAllSeats(ctx, bookingID)
		if err != nil {
			return err
		}
		res.Freed = freed
		if len(freed) > 0 {
			return p.redistribute(ctx, tx, eventID, freed, &res)
		}
		return nil
	})
	timer.ObserveDuration()
	if err != nil {
		return CancelResult{}, err
	}

	if wasWaiting {
		if err := p.queue.Remove(ctx, eventID, bookingID); err != nil {
			p.logger.Warn("waitlist queue remove failed: ", err)
		}
	}
	p.afterCancel(ctx, eventID, res)
	return res, nil
}

// CancelSeats releases an explicit subset of a booking's live seats.
// The booking record keeps its status: a confirmed booking with every
// seat cancelled stays confirmed with zero live seats.
func (p *Promoter) CancelSeats(ctx context.Context, bookingID uuid.UUID, seatNos []int) (CancelResult, error) {
	if len(seatNos) == 0 {
		return CancelResult{}, domain.ErrInvalidInput
	}
	for _, n := range seatNos {
		if n <= 0 {
			return CancelResult{}, domain.ErrInvalidInput
		}
	}

	res := CancelResult{BookingID: bookingID}
	var eventID uuid.UUID

	timer := prometheus.NewTimer(observability.DBTxDuration)
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.BookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		eventID = b.EventID

		freed, err := tx.CancelSeats(ctx, bookingID, seatNos)
		if err != nil {
			return err
		}
		res.Freed = freed
		if len(freed) > 0 {
			return p.redistribute(ctx, tx, eventID, freed, &res)
		}
		return nil
	})
	timer.ObserveDuration()
	if err != nil {
		return CancelResult{}, err
	}

	p.afterCancel(ctx, eventID, res)
	return res, nil
}

// redistribute credits freed seats back to the event and drains the
// FIFO waitlist against them. A waiting booking larger than what is
// left gets a partial promotion: its seats field is overwritten with
// the allocated count and the remainder is not re-queued.
func (p *Promoter) redistribute(ctx context.Context, tx store.Tx, eventID uuid.UUID, freed []int, res *CancelResult) error {
	if err := tx.AddAvailableSlots(ctx, eventID, len(freed)); err != nil {
		return err
	}
	if _, err := p.counter.IncrBy(ctx, eventID, len(freed)); err != nil {
		p.logger.Warn("counter credit failed, reconciliation will correct: ", err)
	}

	ev, err := tx.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}

	remaining := len(freed)
	for remaining > 0 {
		next, err := p.nextWaiting(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if next == nil {
			break
		}

		toAllocate := remaining
		if next.Seats < toAllocate {
			toAllocate = next.Seats
		}

		if err := tx.PromoteBooking(ctx, next.ID, toAllocate); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				// Raced out of waiting state since we read it; skip.
				continue
			}
			return err
		}

		taken, err := tx.BookedSeatNumbers(ctx, eventID)
		if err != nil {
			return err
		}
		seats := lowestFree(taken, toAllocate, ev.TotalSlots)
		if seats == nil {
			return domain.ErrConflict
		}
		if err := tx.InsertSeats(ctx, eventID, next.ID, next.UserID, seats); err != nil {
			return err
		}
		if err := tx.SubtractAvailableSlots(ctx, eventID, toAllocate); err != nil {
			return err
		}
		if _, err := p.counter.DecrBy(ctx, eventID, toAllocate); err != nil {
			p.logger.Warn("counter debit failed, reconciliation will correct: ", err)
		}

		res.Promoted = append(res.Promoted, Promotion{
			BookingID: next.ID,
			UserID:    next.UserID,
			Seats:     seats,
		})
		remaining -= toAllocate
	}
	return nil
}

// nextWaiting pops the cache queue until it yields a booking that is
// still durably waiting, then falls back to the earliest waiting row.
// The cache only orders promotions; losing it loses nobody's place.
func (p *Promoter) nextWaiting(ctx context.Context, tx store.Tx, eventID uuid.UUID) (*domain.Booking, error) {
	for {
		id, err := p.queue.Pop(ctx, eventID)
		if err != nil {
			p.logger.Warn("waitlist queue pop failed, using durable order: ", err)
			break
		}
		if id == uuid.Nil {
			break
		}
		b, err := tx.GetBooking(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if b.Status != domain.BookingWaiting {
			continue
		}
		return b, nil
	}

	b, err := tx.EarliestWaiting(ctx, eventID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// afterCancel runs the post-commit fan-out. Freed seats are announced
// before any promotion-driven booked signal for the same numbers, so
// viewers never see a seat flip straight from booked to booked.
func (p *Promoter) afterCancel(ctx context.Context, eventID uuid.UUID, res CancelResult) {
	if len(res.Freed) > 0 {
		p.broadcaster.BroadcastFreed(eventID, res.Freed)

		if err := p.publisher.PublishJSON(ctx, "booking.cancelled", map[string]interface{}{
			"booking_id":  res.BookingID,
			"event_id":    eventID,
			"freed_seats": res.Freed,
		}); err != nil {
			observability.NotifyPublishFailures.Inc()
			p.logger.Warn("cancel notification publish failed: ", err)
		}
	}

	if len(res.Promoted) == 0 {
		return
	}

	var promotedSeats []int
	for _, promo := range res.Promoted {
		promotedSeats = append(promotedSeats, promo.Seats...)
		observability.PromotionsTotal.Inc()

		if err := p.publisher.PublishJSON(ctx, "waitlist.promoted", map[string]interface{}{
			"booking_id": promo.BookingID,
			"event_id":   eventID,
			"user_id":    promo.UserID,
			"seats":      promo.Seats,
		}); err != nil {
			observability.NotifyPublishFailures.Inc()
			p.logger.Warn("promotion notification publish failed: ", err)
		}
		p.auditLog(ctx, "waitlist.promoted", promo.UserID, map[string]interface{}{
			"booking_id": promo.BookingID.String(),
			"event_id":   eventID.String(),
			"seats":      promo.Seats,
		})
	}

	for _, n := range promotedSeats {
		if err := p.holds.Delete(ctx, eventID, n); err != nil {
			p.logger.Warn("hold cleanup failed: ", err)
		}
	}
	if held, err := p.holds.HeldSeats(ctx, eventID); err == nil {
		p.broadcaster.BroadcastHolds(eventID, held)
	} else {
		p.logger.Warn("held-seat refresh failed: ", err)
	}
	p.broadcaster.BroadcastBooked(eventID, promotedSeats)
}

func (p *Promoter) auditLog(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Record(ctx, action, userID, data); err != nil {
		p.logger.Warn("audit write failed: ", err)
	}
}

func lowestFree(taken []int, count, totalSlots int) []int {
	used := make(map[int]struct{}, len(taken))
	for _, n := range taken {
		used[n] = struct{}{}
	}
	out := make([]int, 0, count)
	for seat := 1; seat <= totalSlots && len(out) < count; seat++ {
		if _, ok := used[seat]; !ok {
			out = append(out, seat)
		}
	}
	if len(out) < count {
		return nil
	}
	return out
}
