package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatwave_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	BookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seatwave_bookings_total",
			Help: "Booking attempts by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatwave_counter_reconcile_total",
			Help: "Times the fast counter was rebuilt from durable state",
		},
	)

	PromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatwave_waitlist_promotions_total",
			Help: "Waiting bookings promoted to confirmed",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seatwave_db_tx_seconds",
			Help:    "Duration of durable booking transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatwave_broadcast_dropped_total",
			Help: "Realtime messages dropped on slow subscribers",
		},
	)

	NotifyPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatwave_notify_publish_failures_total",
			Help: "Notification publishes that failed post-commit",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seatwave_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
