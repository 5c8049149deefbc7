package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/config"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/postgres"
	"github.com/ariefcatur/pcbuild-orders/internal/redisx"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName+"-order-consumer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.ServiceName+"-order-consumer", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("telemetry disabled", "err", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Error("amqp dial", "err", err)
		os.Exit(1)
	}
	defer conn.Close()
	consumeCh, err := conn.Channel()
	if err != nil {
		log.Error("amqp channel", "err", err)
		os.Exit(1)
	}
	publishCh, err := conn.Channel()
	if err != nil {
		log.Error("amqp channel", "err", err)
		os.Exit(1)
	}
	if err := amqpx.DeclareAll(consumeCh, cfg.ConsumerRetryDelay); err != nil {
		log.Error("amqp topology", "err", err)
		os.Exit(1)
	}
	pub := amqpx.NewPublisher(publishCh)

	svc := orders.NewService(&orders.Repo{DB: db}, log, orders.WithCache(&orders.RedisCache{RDB: rdb}))
	h := &orders.CreateConsumer{Service: svc, Publisher: pub, Log: log}
	cons := amqpx.NewConsumer(consumeCh, pub, amqpx.OrderCreate.WithRetryDelay(cfg.ConsumerRetryDelay),
		cfg.ConsumerMaxRetries, cfg.RequestTimeout, log)

	if err := cons.Run(ctx, h.Handle); err != nil {
		log.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	log.Info("order consumer stopped")
}
