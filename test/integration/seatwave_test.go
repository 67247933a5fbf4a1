package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/seatwave/seatwave/internal/adapters/postgres"
	redisadapter "github.com/seatwave/seatwave/internal/adapters/redis"
	"github.com/seatwave/seatwave/internal/booking"
	"github.com/seatwave/seatwave/internal/config"
	"github.com/seatwave/seatwave/internal/holds"
	httphandler "github.com/seatwave/seatwave/internal/http"
	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/rateLimit"
	"github.com/seatwave/seatwave/internal/realtime"
	"github.com/seatwave/seatwave/internal/waitlist"
)

type noopPublisher struct{}

func (noopPublisher) PublishJSON(ctx context.Context, routingKey string, payload interface{}) error {
	return nil
}

type bookingResponse struct {
	ID            uuid.UUID `json:"id"`
	Status        string    `json:"status"`
	WaitingNumber *int      `json:"waiting_number"`
	AssignedSeats []int     `json:"assigned_seats"`
}

func TestIntegration_BookingRush(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "postgres:16",
			Env: map[string]string{
				"POSTGRES_USER":     "seatwave",
				"POSTGRES_PASSWORD": "seatwave",
				"POSTGRES_DB":       "seatwave",
			},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor:   wait.ForListeningPort("5432/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer pgContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)
	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	cfg := &config.Config{
		PostgresDSN: "postgres://seatwave:seatwave@" + pgHost + ":" + pgPort.Port() + "/seatwave?sslmode=disable",
		RedisAddr:   redisHost + ":" + redisPort.Port(),
		HoldTTL:     30 * time.Second,
		IdempTTL:    time.Hour,
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	require.NoError(t, err)
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	require.NoError(t, repo.EnsureSchema(ctx))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	counter := redisadapter.NewCounter(redisClient)
	queue := redisadapter.NewQueue(redisClient)
	holdStore := redisadapter.NewHoldStore(redisClient)
	idemp := redisadapter.NewIdempotency(redisClient, cfg.IdempTTL)
	rl := rateLimit.NewRateLimiter(cache)

	logger := observability.NewLogger()
	hub := realtime.NewHub(logger)
	registry := holds.NewRegistry(holdStore, cfg.HoldTTL, hub, logger)
	bookings := booking.NewService(repo, counter, queue, holdStore, hub, noopPublisher{}, nil, logger)
	promoter := waitlist.NewPromoter(repo, counter, queue, holdStore, hub, noopPublisher{}, nil, logger)
	ws := realtime.NewSessionHandler(hub, registry, logger)

	handlers := httphandler.NewHandlers(cfg, repo, counter, bookings, promoter, registry, cache, idemp, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, ws, logger, rl))
	defer srv.Close()

	// bootstrap a small event everyone will fight over
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	postJSON(t, srv.URL+"/v1/events", map[string]interface{}{"total_slots": 10}, http.StatusCreated, &created)

	// twice as many single-seat requests as the event can hold
	const requests = 20
	var mu sync.Mutex
	var results []bookingResponse

	g := new(errgroup.Group)
	for i := 0; i < requests; i++ {
		g.Go(func() error {
			body, _ := json.Marshal(map[string]interface{}{
				"event_id": created.ID,
				"user_id":  uuid.New(),
				"seats":    1,
			})
			// two raced transactions can pick the same lowest seat;
			// the loser gets a conflict and retries like a real client
			for {
				req, err := http.NewRequest("POST", srv.URL+"/v1/bookings", bytes.NewReader(body))
				if err != nil {
					return err
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Idempotency-Key", uuid.New().String())
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				if resp.StatusCode == http.StatusConflict {
					resp.Body.Close()
					continue
				}

				var br bookingResponse
				err = json.NewDecoder(resp.Body).Decode(&br)
				resp.Body.Close()
				if err != nil {
					return err
				}
				mu.Lock()
				results = append(results, br)
				mu.Unlock()
				return nil
			}
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, results, requests)

	var confirmed, waiting int
	seen := make(map[int]bool)
	waitingNumbers := make(map[int]bool)
	var victim uuid.UUID
	for _, br := range results {
		switch br.Status {
		case "confirmed":
			confirmed++
			victim = br.ID
			require.Len(t, br.AssignedSeats, 1)
			seat := br.AssignedSeats[0]
			assert.False(t, seen[seat], "seat %d assigned twice", seat)
			assert.GreaterOrEqual(t, seat, 1)
			assert.LessOrEqual(t, seat, 10)
			seen[seat] = true
		case "waiting":
			waiting++
			require.NotNil(t, br.WaitingNumber)
			assert.False(t, waitingNumbers[*br.WaitingNumber], "waiting number %d handed out twice", *br.WaitingNumber)
			waitingNumbers[*br.WaitingNumber] = true
		default:
			t.Fatalf("unexpected status %q", br.Status)
		}
	}
	assert.Equal(t, 10, confirmed)
	assert.Equal(t, 10, waiting)

	// cancelling one confirmed booking promotes exactly one waiter
	var cancelResp struct {
		OK       bool  `json:"ok"`
		Freed    []int `json:"freed"`
		Promoted []struct {
			BookingID uuid.UUID `json:"booking_id"`
			Seats     []int     `json:"seats"`
		} `json:"promoted"`
	}
	postJSON(t, srv.URL+"/v1/bookings/"+victim.String()+"/cancel", map[string]interface{}{}, http.StatusOK, &cancelResp)
	assert.True(t, cancelResp.OK)
	require.Len(t, cancelResp.Freed, 1)
	require.Len(t, cancelResp.Promoted, 1)
	assert.Equal(t, cancelResp.Freed, cancelResp.Promoted[0].Seats)

	// the event stays full: the promoted waiter took the freed seat
	var seatsResp struct {
		Booked []int `json:"booked"`
	}
	resp, err := http.Get(srv.URL + "/v1/events/" + created.ID.String() + "/seats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&seatsResp))
	assert.Len(t, seatsResp.Booked, 10)
}

func postJSON(t *testing.T, url string, payload interface{}, wantStatus int, out interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}
