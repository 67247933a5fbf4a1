package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/seatwave/seatwave/internal/adapters/mongo"
	"github.com/seatwave/seatwave/internal/adapters/rabbit"
	"github.com/seatwave/seatwave/internal/config"
	"github.com/seatwave/seatwave/internal/observability"
)

// notify-worker drains the notifications queue at-least-once. Actual
// delivery (mail, push) is out of scope here; each message is
// audit-logged and acked.
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

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("seatwave"), logger)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, "notify.q")
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to start consuming: %v", err)
	}

	go drain(ctx, deliveries, audit, logger)
	logger.Info("notify worker running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown notify worker")
}

func drain(ctx context.Context, deliveries <-chan amqp.Delivery, audit *mongoadapter.AuditLogger, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			handle(ctx, d, audit, logger)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, audit *mongoadapter.AuditLogger, logger observability.Logger) {
	var payload map[string]interface{}
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		logger.WithField("routing_key", d.RoutingKey).Error("bad notification payload: ", err)
		d.Nack(false, false)
		return
	}

	userID := uuid.Nil
	if s, ok := payload["user_id"].(string); ok {
		if id, err := uuid.Parse(s); err == nil {
			userID = id
		}
	}

	if err := audit.Record(ctx, "notified:"+d.RoutingKey, userID, payload); err != nil {
		logger.WithField("routing_key", d.RoutingKey).Error("audit record failed: ", err)
	}

	logger.WithField("routing_key", d.RoutingKey).Info("notification processed")
	d.Ack(false)
}
