package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/Domenick1991/skycheckout/config"
	"github.com/Domenick1991/skycheckout/internal/bootstrap"
	"github.com/Domenick1991/skycheckout/internal/cache"
	"github.com/Domenick1991/skycheckout/internal/kafka"
	"github.com/Domenick1991/skycheckout/internal/repository"
	"github.com/Domenick1991/skycheckout/internal/service/booking"
	"github.com/Domenick1991/skycheckout/internal/service/flights"
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
	if err := redisCache.Ping(ctx); err != nil {
		log.Warn("redis is not reachable yet", "error", err.Error())
	}

	producer := kafka.NewProducer(cfg.Kafka.Brokers, log.Logger)
	defer producer.Close()
	var events session.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		if err := producer.CheckConnection(ctx); err != nil {
			log.Warn("kafka is not reachable yet", "error", err.Error())
		}
		events = producer
	}

	flightRepo := repository.NewFlightRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)

	flightService := flights.NewFlightService(flightRepo, redisCache, log.Logger)
	sessionService := session.NewSessionService(
		sessionRepo,
		flightRepo,
		redisCache,
		session.Config{
			SeatLockTTL: cfg.Checkout.SeatLockTTL,
			SessionTTL:  cfg.Checkout.SessionTTL,
		},
		log,
		session.WithProducer(events, cfg.Kafka.BookingEventsTopic),
	)
	bookingService := booking.NewBookingService(
		bookingRepo,
		sessionService,
		redisCache,
		events,
		cfg.Kafka.BookingEventsTopic,
		log,
		booking.WithNotificationsTopic(cfg.Kafka.NotificationsTopic),
	)

	err = bootstrap.Run(ctx, cfg, bootstrap.Services{
		Flights:  flightService,
		Sessions: sessionService,
		Bookings: bookingService,
	}, log)
	if err != nil {
		log.Error("server error", "error", err.Error())
		os.Exit(1)
	}
}
