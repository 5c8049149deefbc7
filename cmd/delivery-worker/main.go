package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/catalog"
	"github.com/ariefcatur/pcbuild-orders/internal/checkout"
	"github.com/ariefcatur/pcbuild-orders/internal/config"
	"github.com/ariefcatur/pcbuild-orders/internal/delivery"
	kafkax "github.com/ariefcatur/pcbuild-orders/internal/kafka"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/postgres"
	"github.com/ariefcatur/pcbuild-orders/internal/redisx"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/joho/godotenv"
	kafkago "github.com/segmentio/kafka-go"
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-delivery-worker"
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, name, cfg.OTLPEndpoint)
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
	sqlDB, err := delivery.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("delivery db", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	w := &checkout.DeliveryWorker{
		Orders:     orders.NewService(&orders.Repo{DB: db}, log, orders.WithCache(&orders.RedisCache{RDB: rdb})),
		Deliveries: delivery.NewService(&delivery.SQLStore{DB: sqlDB}, log, time.Now),
		Catalog:    catalog.New(cfg.CatalogURL, cfg.PartURL, cfg.CustomerURL, cfg.RequestTimeout),
		Redis:      rdb,
		Log:        log,
	}

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 16, log)
	prod.Start(context.Background())
	defer func() {
		prod.Close()
		prod.WaitClosed()
	}()

	group := getenv("DELIVERY_GROUP", "delivery-svc")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicDeliveryRequested, cfg.ConsumerWorkers, log)
	cons.Park = func(ctx context.Context, m kafkago.Message, cause error) error {
		headers := append(m.Headers, kafkago.Header{Key: "x-failure", Value: []byte(cause.Error())})
		return prod.PublishSync(ctx, orders.TopicDeliveryDead, m.Key, m.Value, headers...)
	}
	log.Info("delivery consumer started", "group", group, "topic", orders.TopicDeliveryRequested, "workers", cfg.ConsumerWorkers)
	if err := cons.Start(ctx, w.HandleDeliveryRequested); err != nil {
		log.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	log.Info("delivery worker stopped")
}
