package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisadapter "github.com/seatwave/seatwave/internal/adapters/redis"
	"github.com/seatwave/seatwave/internal/booking"
	"github.com/seatwave/seatwave/internal/config"
	"github.com/seatwave/seatwave/internal/domain"
	"github.com/seatwave/seatwave/internal/holds"
	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store"
	"github.com/seatwave/seatwave/internal/waitlist"
)

type Handlers struct {
	cfg      *config.Config
	store    store.Store
	counter  store.Counter
	bookings *booking.Service
	promoter *waitlist.Promoter
	registry *holds.Registry
	redis    *redisadapter.Cache
	idemp    *redisadapter.Idempotency
	logger   observability.Logger
}

func NewHandlers(
	cfg *config.Config,
	st store.Store,
	counter store.Counter,
	bookings *booking.Service,
	promoter *waitlist.Promoter,
	registry *holds.Registry,
	redis *redisadapter.Cache,
	idemp *redisadapter.Idempotency,
	logger observability.Logger,
) *Handlers {
	return &Handlers{
		cfg:      cfg,
		store:    st,
		counter:  counter,
		bookings: bookings,
		promoter: promoter,
		registry: registry,
		redis:    redis,
		idemp:    idemp,
		logger:   logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]interface{}{"error": code})
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		EventID     uuid.UUID `json:"event_id"`
		UserID      uuid.UUID `json:"user_id"`
		Seats       int       `json:"seats"`
		SeatNumbers []int     `json:"seat_numbers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	br, err := domain.NewBookingRequest(req.EventID, req.UserID, req.Seats, req.SeatNumbers)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := h.bookings.Book(r.Context(), br)
	if err != nil {
		var conflict *domain.SeatConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"error":       "seats_conflict",
				"unavailable": conflict.Unavailable,
			})
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event_not_found")
			return
		}
		if errors.Is(err, domain.ErrConflict) {
			writeError(w, http.StatusConflict, "conflict")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"id":     res.Booking.ID,
		"status": res.Booking.Status,
	}
	if res.Booking.WaitingNumber != nil {
		resp["waiting_number"] = *res.Booking.WaitingNumber
	}
	if len(res.AssignedSeats) > 0 {
		resp["assigned_seats"] = res.AssignedSeats
	}
	data := writeJSON(w, http.StatusCreated, resp)

	h.idemp.Set(r.Context(), key, redisadapter.IdempResponse{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	res, err := h.promoter.Cancel(r.Context(), id)
	if err != nil {
		h.writeCancelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse(res))
}

func (h *Handlers) CancelSeats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	var req struct {
		SeatNumbers []int `json:"seat_numbers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := h.promoter.CancelSeats(r.Context(), id, req.SeatNumbers)
	if err != nil {
		h.writeCancelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse(res))
}

func (h *Handlers) writeCancelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "booking_not_found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict")
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func cancelResponse(res waitlist.CancelResult) map[string]interface{} {
	promoted := make([]map[string]interface{}, 0, len(res.Promoted))
	for _, p := range res.Promoted {
		promoted = append(promoted, map[string]interface{}{
			"booking_id": p.BookingID,
			"user_id":    p.UserID,
			"seats":      p.Seats,
		})
	}
	return map[string]interface{}{
		"ok":       true,
		"freed":    res.Freed,
		"promoted": promoted,
	}
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	b, err := h.store.GetBooking(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "booking_not_found")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"id":       b.ID,
		"event_id": b.EventID,
		"user_id":  b.UserID,
		"seats":    b.Seats,
		"status":   b.Status,
	}
	if b.WaitingNumber != nil {
		resp["waiting_number"] = *b.WaitingNumber
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetBookingSeats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	seats, err := h.store.SeatsByBooking(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	nos := make([]int, 0, len(seats))
	for _, s := range seats {
		if s.Status == domain.SeatBooked {
			nos = append(nos, s.SeatNo)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"booking_id": id, "seat_numbers": nos})
}

func (h *Handlers) GetUserBookings(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	bookings, err := h.store.BookingsByUser(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]interface{}, 0, len(bookings))
	for _, b := range bookings {
		item := map[string]interface{}{
			"id":       b.ID,
			"event_id": b.EventID,
			"seats":    b.Seats,
			"status":   b.Status,
		}
		if b.WaitingNumber != nil {
			item["waiting_number"] = *b.WaitingNumber
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bookings": items})
}

// CreateEvent bootstraps the minimum event surface the engine needs: the
// durable capacity row plus the fast counter. Event metadata lives
// elsewhere.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TotalSlots int `json:"total_slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.TotalSlots <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	ev, err := h.store.CreateEvent(r.Context(), req.TotalSlots)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.counter.Init(r.Context(), ev.ID, ev.AvailableSlots); err != nil {
		// counter seeds lazily on first booking if this fails
		h.logger.WithField("event_id", ev.ID).Warn("counter init failed: ", err)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":          ev.ID,
		"total_slots": ev.TotalSlots,
	})
}

// GetEventSeats serves the first-paint view: durably booked seats plus
// currently held seats.
func (h *Handlers) GetEventSeats(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id")
		return
	}

	if _, err := h.store.GetEvent(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event_not_found")
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var booked []int
	err = h.store.WithTx(r.Context(), func(tx store.Tx) error {
		var err error
		booked, err = tx.BookedSeatNumbers(r.Context(), id)
		return err
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	held, err := h.registry.HeldSeats(r.Context(), id)
	if err != nil {
		held = []int{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id": id,
		"booked":   booked,
		"held":     held,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.redis.Ping(r.Context()); err != nil {
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
