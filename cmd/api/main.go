package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/seatwave/seatwave/internal/adapters/mongo"
	"github.com/seatwave/seatwave/internal/adapters/postgres"
	"github.com/seatwave/seatwave/internal/adapters/rabbit"
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

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("seatwave"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	counter := redisadapter.NewCounter(redisClient)
	queue := redisadapter.NewQueue(redisClient)
	holdStore := redisadapter.NewHoldStore(redisClient)
	idemp := redisadapter.NewIdempotency(redisClient, cfg.IdempTTL)
	rl := rateLimit.NewRateLimiter(cache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	publisher, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	hub := realtime.NewHub(logger)
	registry := holds.NewRegistry(holdStore, cfg.HoldTTL, hub, logger)
	bookings := booking.NewService(repo, counter, queue, holdStore, hub, publisher, audit, logger)
	promoter := waitlist.NewPromoter(repo, counter, queue, holdStore, hub, publisher, audit, logger)
	ws := realtime.NewSessionHandler(hub, registry, logger)

	handlers := httphandler.NewHandlers(cfg, repo, counter, bookings, promoter, registry, cache, idemp, logger)
	r := httphandler.SetupRouter(handlers, ws, logger, rl)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()
	logger.WithField("addr", cfg.ListenAddr).Info("api listening")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
