package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/config"
	kafkax "github.com/ariefcatur/pcbuild-orders/internal/kafka"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/payment"
	"github.com/ariefcatur/pcbuild-orders/internal/postgres"
	"github.com/ariefcatur/pcbuild-orders/internal/redisx"
	"github.com/ariefcatur/pcbuild-orders/internal/refunds"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	name := cfg.ServiceName + "-refund-worker"
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
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prodCtx, stopProd := context.WithCancel(context.Background())
	prod.Start(prodCtx)

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

	osvc := orders.NewService(&orders.Repo{DB: db}, log, orders.WithCache(&orders.RedisCache{RDB: rdb}))
	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, nil)
	coord := refunds.NewCoordinator(osvc, &refunds.PGLedger{DB: db}, gateway, prod, refunds.Config{
		ServiceName: name,
		Window:      cfg.RefundWindow,
	}, log)
	coord.Redis = rdb
	coord.Publisher = pub

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		refunds.NewSweeper(coord, cfg.RefundStaleAfter, cfg.SweepInterval, log).Run(ctx)
	}()

	w := &refunds.Worker{Coordinator: coord, Publisher: pub, Log: log}
	cons := amqpx.NewConsumer(consumeCh, pub, amqpx.RefundQueue.WithRetryDelay(cfg.ConsumerRetryDelay),
		cfg.ConsumerMaxRetries, cfg.RequestTimeout, log)
	if err := cons.Run(ctx, w.Handle); err != nil {
		log.Error("consumer exit", "err", err)
		stop()
	}

	// Tunggu sampai goroutine selesai.
	wg.Wait()
	prod.Close()
	stopProd()
	prod.WaitClosed()
	log.Info("refund worker stopped")
}
