package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/rateLimit"
	"github.com/seatwave/seatwave/internal/realtime"
)

func SetupRouter(h *Handlers, ws *realtime.SessionHandler, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyKeyMiddleware)

	r.Post("/v1/events", h.CreateEvent)
	r.Get("/v1/events/{id}/seats", h.GetEventSeats)
	r.Get("/v1/events/{id}/ws", ws.ServeHTTP)

	r.Post("/v1/bookings", h.CreateBooking)
	r.Post("/v1/bookings/{id}/cancel", h.CancelBooking)
	r.Post("/v1/bookings/{id}/cancel-seats", h.CancelSeats)
	r.Get("/v1/bookings/{id}", h.GetBooking)
	r.Get("/v1/bookings/{id}/seats", h.GetBookingSeats)
	r.Get("/v1/users/{id}/bookings", h.GetUserBookings)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
