// Package postgres is the durable store: events, bookings and seat rows
// live here and are the final arbiter of what is bookable. The event
// row's FOR UPDATE lock is the single serialization point for contested
// capacity decisions.
package postgres

import (
	"context"
	_ "embed"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/seatwave/seatwave/internal/domain"
	"github.com/seatwave/seatwave/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema applies the idempotent schema on startup.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schemaSQL)
	return errors.Wrap(err, "ensure schema")
}

// WithTx runs fn inside one transaction. Any error rolls back every
// durable mutation made in the attempt; fn only sees committed state
// plus its own writes.
func (r *Repository) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(&txRepo{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (r *Repository) CreateEvent(ctx context.Context, totalSlots int) (*domain.Event, error) {
	if totalSlots <= 0 {
		return nil, errors.WithDetail(domain.ErrInvalidInput, "total_slots must be positive")
	}
	var ev domain.Event
	err := r.pool.QueryRow(ctx, `
		INSERT INTO events (total_slots, available_slots)
		VALUES ($1, $1)
		RETURNING id, total_slots, available_slots, created_at, updated_at
	`, totalSlots).Scan(&ev.ID, &ev.TotalSlots, &ev.AvailableSlots, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "create event")
	}
	return &ev, nil
}

func (r *Repository) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `
		SELECT id, total_slots, available_slots, created_at, updated_at
		FROM events WHERE id = $1
	`, eventID))
}

func (r *Repository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT id, event_id, user_id, seats, status, waiting_number, created_at, updated_at
		FROM bookings WHERE id = $1
	`, bookingID))
}

func (r *Repository) BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, user_id, seats, status, waiting_number, created_at, updated_at
		FROM bookings WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.EventID, &b.UserID, &b.Seats, &b.Status, &b.WaitingNumber, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *Repository) SeatsByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, event_id, booking_id, user_id, seat_no, status, created_at
		FROM booking_seats WHERE booking_id = $1 ORDER BY seat_no
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seats []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.EventID, &s.BookingID, &s.UserID, &s.SeatNo, &s.Status, &s.CreatedAt); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// txRepo implements store.Tx over one open pgx transaction.
type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return scanEvent(t.tx.QueryRow(ctx, `
		SELECT id, total_slots, available_slots, created_at, updated_at
		FROM events WHERE id = $1
	`, eventID))
}

func (t *txRepo) EventForUpdate(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return scanEvent(t.tx.QueryRow(ctx, `
		SELECT id, total_slots, available_slots, created_at, updated_at
		FROM events WHERE id = $1 FOR UPDATE
	`, eventID))
}

func (t *txRepo) AddAvailableSlots(ctx context.Context, eventID uuid.UUID, n int) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE events
		SET available_slots = LEAST(available_slots + $1, total_slots), updated_at = NOW()
		WHERE id = $2
	`, n, eventID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *txRepo) SubtractAvailableSlots(ctx context.Context, eventID uuid.UUID, n int) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE events
		SET available_slots = GREATEST(available_slots - $1, 0), updated_at = NOW()
		WHERE id = $2
	`, n, eventID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *txRepo) CreateBooking(ctx context.Context, b *domain.Booking) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO bookings (id, event_id, user_id, seats, status, waiting_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, b.ID, b.EventID, b.UserID, b.Seats, b.Status, b.WaitingNumber).Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (t *txRepo) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `
		SELECT id, event_id, user_id, seats, status, waiting_number, created_at, updated_at
		FROM bookings WHERE id = $1
	`, bookingID))
}

func (t *txRepo) BookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `
		SELECT id, event_id, user_id, seats, status, waiting_number, created_at, updated_at
		FROM bookings WHERE id = $1 FOR UPDATE
	`, bookingID))
}

func (t *txRepo) MarkCancelled(ctx context.Context, bookingID uuid.UUID) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE bookings SET status = 'cancelled', updated_at = NOW() WHERE id = $1
	`, bookingID)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// PromoteBooking confirms a waiting booking. Seats is overwritten with
// the allocated count, not the original request; the unserved remainder
// is dropped rather than re-queued.
func (t *txRepo) PromoteBooking(ctx context.Context, bookingID uuid.UUID, seats int) error {
	res, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'confirmed', seats = $2, waiting_number = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'waiting'
	`, bookingID, seats)
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *txRepo) EarliestWaiting(ctx context.Context, eventID uuid.UUID) (*domain.Booking, error) {
	return scanBooking(t.tx.QueryRow(ctx, `
		SELECT id, event_id, user_id, seats, status, waiting_number, created_at, updated_at
		FROM bookings WHERE event_id = $1 AND status = 'waiting'
		ORDER BY created_at ASC LIMIT 1
		FOR UPDATE
	`, eventID))
}

func (t *txRepo) NextWaitingNumber(ctx context.Context, eventID uuid.UUID) (int, error) {
	var next int
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(waiting_number), 0) + 1
		FROM bookings WHERE event_id = $1 AND status = 'waiting'
	`, eventID).Scan(&next)
	return next, err
}

func (t *txRepo) BookedSeatNumbers(ctx context.Context, eventID uuid.UUID) ([]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT seat_no FROM booking_seats
		WHERE event_id = $1 AND status = 'booked' ORDER BY seat_no
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeatNos(rows)
}

// CountBookedSeats recomputes live seat usage from the seat rows. The
// reconciliation path trusts this over available_slots.
func (t *txRepo) CountBookedSeats(ctx context.Context, eventID uuid.UUID) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM booking_seats WHERE event_id = $1 AND status = 'booked'
	`, eventID).Scan(&n)
	return n, err
}

func (t *txRepo) BookedAmong(ctx context.Context, eventID uuid.UUID, seatNos []int) ([]int, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT seat_no FROM booking_seats
		WHERE event_id = $1 AND status = 'booked' AND seat_no = ANY($2::int[])
		ORDER BY seat_no
	`, eventID, seatNos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeatNos(rows)
}

const uniqueViolationCode = "23505"

func (t *txRepo) InsertSeats(ctx context.Context, eventID, bookingID, userID uuid.UUID, seatNos []int) error {
	for _, n := range seatNos {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO booking_seats (event_id, booking_id, user_id, seat_no, status)
			VALUES ($1, $2, $3, $4, 'booked')
		`, eventID, bookingID, userID, n)
		if err != nil {
			// The partial unique index is the last line of defense
			// against two transactions racing for the same seat.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
				return errors.WithDetailf(domain.ErrConflict, "seat %d already booked", n)
			}
			return errors.Wrapf(err, "insert seat %d", n)
		}
	}
	return nil
}

func (t *txRepo) CancelAllSeats(ctx context.Context, bookingID uuid.UUID) ([]int, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE booking_seats SET status = 'cancelled'
		WHERE booking_id = $1 AND status = 'booked'
		RETURNING seat_no
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeatNos(rows)
}

func (t *txRepo) CancelSeats(ctx context.Context, bookingID uuid.UUID, seatNos []int) ([]int, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE booking_seats SET status = 'cancelled'
		WHERE booking_id = $1 AND seat_no = ANY($2::int[]) AND status = 'booked'
		RETURNING seat_no
	`, bookingID, seatNos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeatNos(rows)
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var ev domain.Event
	err := row.Scan(&ev.ID, &ev.TotalSlots, &ev.AvailableSlots, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(&b.ID, &b.EventID, &b.UserID, &b.Seats, &b.Status, &b.WaitingNumber, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanSeatNos(rows pgx.Rows) ([]int, error) {
	var nums []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}
