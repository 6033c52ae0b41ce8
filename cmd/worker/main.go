package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/Domenick1991/skycheckout/config"
	"github.com/Domenick1991/skycheckout/internal/cache"
	"github.com/Domenick1991/skycheckout/internal/email"
	"github.com/Domenick1991/skycheckout/internal/kafka"
	"github.com/Domenick1991/skycheckout/internal/repository"
	"github.com/Domenick1991/skycheckout/internal/service/session"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.New().Error("load config", "error", err.Error())
		os.Exit(1)
	}
	log := logger.NewWithLevel(cfg.Log.Level)
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Error("connect postgres", "error", err.Error())
		os.Exit(1)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, cfg.Checkout.FlightsCacheTTL)
	defer redisCache.Close()

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log.Logger)
	defer producer.Close()
	var events session.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		events = producer
	}

	sessionService := session.NewSessionService(
		repository.NewSessionRepository(pool),
		repository.NewFlightRepository(pool),
		redisCache,
		session.Config{
			SeatLockTTL: cfg.Checkout.SeatLockTTL,
			SessionTTL:  cfg.Checkout.SessionTTL,
		},
		log,
		session.WithProducer(events, cfg.Kafka.BookingEventsTopic),
	)

	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.NotificationsTopic != "" {
		consumer := kafka.NewNotificationConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic, log.Logger)
		defer consumer.Close()
		sender := email.NewSender("", log.Logger)

		go func() {
			err := consumer.Run(ctx, sender.Send)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("consumer stopped", "error", err.Error())
			}
		}()
	}

	expireTicker := time.NewTicker(cfg.Worker.ExpirationSweep)
	defer expireTicker.Stop()

	log.Info("worker started", "sweep", cfg.Worker.ExpirationSweep.String())
	for {
		select {
		case <-expireTicker.C:
			sweep(ctx, sessionService, cfg.Worker.SweepBatchSize, log)
		case <-ctx.Done():
			log.Info("shutting down worker")
			return
		}
	}
}

// sweep expires overdue sessions batch by batch until a short batch is seen.
func sweep(ctx context.Context, svc *session.SessionService, batch int, log *logger.Logger) {
	total := 0
	for {
		n, err := svc.ExpireStale(ctx, batch)
		if err != nil {
			log.Error("expire sessions", "error", err.Error())
			return
		}
		total += n
		if n < batch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		log.Info("expired sessions", "count", total)
	}
}
