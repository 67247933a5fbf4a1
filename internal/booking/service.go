// Package booking implements the authoritative allocator. The fast
// counter gives a lock-free answer in the common case; whenever it
// signals scarcity the decision is re-derived under the event row lock,
// so that exactly the contested moments pay for serialization.
package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seatwave/seatwave/internal/domain"
	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store"
)

// Broadcaster carries the post-commit realtime signals. Failures are
// invisible to callers; a broadcast never decides a booking.
type Broadcaster interface {
	BroadcastHolds(eventID uuid.UUID, held []int)
	BroadcastBooked(eventID uuid.UUID, seats []int)
}

// Publisher hands notification events to the message queue,
// fire-and-forget after commit.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// Auditor records actions out-of-band; errors are logged, never
// propagated into outcomes.
type Auditor interface {
	Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error
}

type Service struct {
	store       store.Store
	counter     store.Counter
	queue       store.Queue
	holds       store.HoldStore
	broadcaster Broadcaster
	publisher   Publisher
	audit       Auditor
	logger      observability.Logger
}

func NewService(
	st store.Store,
	counter store.Counter,
	queue store.Queue,
	holdStore store.HoldStore,
	broadcaster Broadcaster,
	publisher Publisher,
	audit Auditor,
	logger observability.Logger,
) *Service {
	return &Service{
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

// Book runs one booking attempt end to end. The durable work happens in
// a single event-scoped transaction; realtime broadcasts, hold
// clearing, notifications and audit writes run only after commit.
//
// A confirmed result carries exactly req.Seats distinct in-range seat
// numbers not booked at commit time. A waiting result reserves nothing
// and carries a FIFO waiting number. Capacity exhaustion is not an
// error.
func (s *Service) Book(ctx context.Context, req domain.BookingRequest) (domain.BookingResult, error) {
	booking := &domain.Booking{
		ID:      uuid.New(),
		EventID: req.EventID,
		UserID:  req.UserID,
		Seats:   req.Seats,
		Status:  domain.BookingConfirmed,
	}
	var assigned []int

	// counterDebt tracks an optimistic decrement that must be given
	// back if this attempt does not commit a confirmed booking.
	counterDebt := 0

	timer := prometheus.NewTimer(observability.DBTxDuration)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		ev, err := tx.GetEvent(ctx, req.EventID)
		if err != nil {
			return err
		}

		if req.Explicit() {
			for _, n := range req.SeatNumbers {
				if n > ev.TotalSlots {
					return domain.ErrInvalidInput
				}
			}
			conflicts, err := tx.BookedAmong(ctx, req.EventID, req.SeatNumbers)
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				return &domain.SeatConflictError{Unavailable: conflicts}
			}
		}

		demote := func() error {
			if counterDebt > 0 {
				if _, err := s.counter.IncrBy(ctx, req.EventID, counterDebt); err != nil {
					s.logger.Warn("counter undo failed, reconciliation will correct: ", err)
				}
				counterDebt = 0
			}
			booking.Status = domain.BookingWaiting
			wn, err := s.waitingNumber(ctx, tx, req.EventID, booking.ID)
			if err != nil {
				return err
			}
			booking.WaitingNumber = &wn
			return nil
		}

		remaining, fastErr := s.decrementFast(ctx, req.EventID, req.Seats, ev.AvailableSlots)
		if fastErr == nil {
			counterDebt = req.Seats
		} else {
			s.logger.Warn("fast counter unavailable, falling back to durable check: ", fastErr)
		}

		if fastErr != nil || remaining < 0 {
			// The counter says scarce (or said nothing). Re-derive the
			// truth under the row lock before giving up.
			observability.ReconcileRuns.Inc()
			locked, err := tx.EventForUpdate(ctx, req.EventID)
			if err != nil {
				return err
			}
			used, err := tx.CountBookedSeats(ctx, req.EventID)
			if err != nil {
				return err
			}
			avail := locked.TotalSlots - used
			if avail >= req.Seats {
				if err := s.counter.Set(ctx, req.EventID, avail-req.Seats); err != nil {
					s.logger.Warn("counter reset failed: ", err)
				}
				counterDebt = 0
			} else if err := demote(); err != nil {
				return err
			}
			ev = locked
		}

		if booking.Status == domain.BookingConfirmed && !req.Explicit() {
			taken, err := tx.BookedSeatNumbers(ctx, req.EventID)
			if err != nil {
				return err
			}
			assigned = lowestFree(taken, req.Seats, ev.TotalSlots)
			if assigned == nil {
				// The counter overshot durable truth; this request
				// joins the waitlist instead.
				if err := demote(); err != nil {
					return err
				}
			}
		}
		if booking.Status == domain.BookingConfirmed && req.Explicit() {
			assigned = append([]int(nil), req.SeatNumbers...)
		}

		if err := tx.CreateBooking(ctx, booking); err != nil {
			return err
		}
		if booking.Status == domain.BookingConfirmed {
			if err := tx.InsertSeats(ctx, req.EventID, booking.ID, req.UserID, assigned); err != nil {
				return err
			}
			if err := tx.SubtractAvailableSlots(ctx, req.EventID, req.Seats); err != nil {
				return err
			}
		}
		return nil
	})
	timer.ObserveDuration()

	if err != nil {
		if counterDebt > 0 {
			if _, incErr := s.counter.IncrBy(ctx, req.EventID, counterDebt); incErr != nil {
				s.logger.Warn("counter undo failed after rollback: ", incErr)
			}
		}
		observability.BookingsTotal.WithLabelValues("error").Inc()
		return domain.BookingResult{}, err
	}

	if booking.Status == domain.BookingConfirmed {
		s.afterConfirm(ctx, req.EventID, req.UserID, booking.ID, assigned)
		observability.BookingsTotal.WithLabelValues("confirmed").Inc()
		return domain.BookingResult{Booking: *booking, AssignedSeats: assigned}, nil
	}

	if err := s.publisher.PublishJSON(ctx, "booking.waitlisted", map[string]interface{}{
		"booking_id":     booking.ID,
		"event_id":       req.EventID,
		"user_id":        req.UserID,
		"seats":          req.Seats,
		"waiting_number": booking.WaitingNumber,
	}); err != nil {
		observability.NotifyPublishFailures.Inc()
		s.logger.Warn("waitlist notification publish failed: ", err)
	}
	s.auditLog(ctx, "booking.waitlisted", req.UserID, map[string]interface{}{
		"booking_id": booking.ID.String(),
		"event_id":   req.EventID.String(),
		"seats":      req.Seats,
	})
	observability.BookingsTotal.WithLabelValues("waiting").Inc()
	return domain.BookingResult{Booking: *booking}, nil
}

// decrementFast applies the optimistic counter decrement, seeding the
// counter from durable availability on a cold cache first.
func (s *Service) decrementFast(ctx context.Context, eventID uuid.UUID, n, seed int) (int, error) {
	_, ok, err := s.counter.Get(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if !ok {
		if err := s.counter.Init(ctx, eventID, seed); err != nil {
			return 0, err
		}
	}
	return s.counter.DecrBy(ctx, eventID, n)
}

// waitingNumber prefers the cache queue's position; when the cache is
// down the durable rows supply the next number so the outcome is never
// blocked by the cache.
func (s *Service) waitingNumber(ctx context.Context, tx store.Tx, eventID, bookingID uuid.UUID) (int, error) {
	if wn, err := s.queue.Push(ctx, eventID, bookingID); err == nil {
		return wn, nil
	} else {
		s.logger.Warn("waitlist queue push failed, using durable number: ", err)
	}
	return tx.NextWaitingNumber(ctx, eventID)
}

// afterConfirm runs the post-commit side effects for newly booked
// seats: clear their holds, refresh the held-seat view, announce the
// booked seats, notify, audit. Order matters: viewers see the holds
// vanish before the seats flip to booked.
func (s *Service) afterConfirm(ctx context.Context, eventID, userID, bookingID uuid.UUID, seats []int) {
	for _, n := range seats {
		if err := s.holds.Delete(ctx, eventID, n); err != nil {
			s.logger.Warn("hold cleanup failed: ", err)
		}
	}
	if held, err := s.holds.HeldSeats(ctx, eventID); err == nil {
		s.broadcaster.BroadcastHolds(eventID, held)
	} else {
		s.logger.Warn("held-seat refresh failed: ", err)
	}
	s.broadcaster.BroadcastBooked(eventID, seats)

	if err := s.publisher.PublishJSON(ctx, "booking.confirmed", map[string]interface{}{
		"booking_id": bookingID,
		"event_id":   eventID,
		"user_id":    userID,
		"seats":      seats,
	}); err != nil {
		observability.NotifyPublishFailures.Inc()
		s.logger.Warn("booking notification publish failed: ", err)
	}
	s.auditLog(ctx, "booking.confirmed", userID, map[string]interface{}{
		"booking_id": bookingID.String(),
		"event_id":   eventID.String(),
		"seats":      seats,
	})
}

func (s *Service) auditLog(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, action, userID, data); err != nil {
		s.logger.Warn("audit write failed: ", err)
	}
}

// lowestFree picks count lowest unbooked seat numbers within
// 1..totalSlots, or nil when fewer than count remain.
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
