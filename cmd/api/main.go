package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/catalog"
	"github.com/ariefcatur/pcbuild-orders/internal/checkout"
	"github.com/ariefcatur/pcbuild-orders/internal/config"
	"github.com/ariefcatur/pcbuild-orders/internal/delivery"
	"github.com/ariefcatur/pcbuild-orders/internal/httpx"
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
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("telemetry disabled", "err", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// DB: orders + refund ledger via pgx, deliveries via lib/pq
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
	sqlDB, err := delivery.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("delivery db", "err", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer (saga events)
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	// RabbitMQ, only needed for /refund-async
	var refundQueue amqpx.Publisher
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Warn("amqp unavailable, async refunds disabled", "err", err)
	} else {
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			log.Error("amqp channel", "err", err)
			os.Exit(1)
		}
		if err := amqpx.DeclareAll(ch, cfg.ConsumerRetryDelay); err != nil {
			log.Error("amqp topology", "err", err)
			os.Exit(1)
		}
		refundQueue = amqpx.NewPublisher(ch)
	}

	osvc := orders.NewService(&orders.Repo{DB: db}, log, orders.WithCache(&orders.RedisCache{RDB: rdb}))
	dsvc := delivery.NewService(&delivery.SQLStore{DB: sqlDB}, log, time.Now)
	gateway := payment.NewStripeGateway(cfg.StripeSecretKey, nil)
	cat := catalog.New(cfg.CatalogURL, cfg.PartURL, cfg.CustomerURL, cfg.RequestTimeout)

	coord := checkout.NewCoordinator(osvc, dsvc, gateway, cat, prod, checkout.Config{
		ServiceName: cfg.ServiceName,
		Currency:    cfg.DefaultCurrency,
		SuccessURL:  cfg.CheckoutSuccessURL,
		CancelURL:   cfg.CheckoutCancelURL,
	}, log)
	rc := refunds.NewCoordinator(osvc, &refunds.PGLedger{DB: db}, gateway, prod, refunds.Config{
		ServiceName: cfg.ServiceName,
		Window:      cfg.RefundWindow,
	}, log)
	rc.Redis = rdb
	rc.Publisher = refundQueue

	router := httpx.NewRouter()
	(&httpx.OrdersHandler{Service: osvc, Timeout: cfg.RequestTimeout}).Register(router)
	(&httpx.DeliveryHandler{Service: dsvc, Timeout: cfg.RequestTimeout}).Register(router)
	(&httpx.CheckoutHandler{Coordinator: coord, Timeout: cfg.RequestTimeout}).Register(router)
	(&httpx.RefundHandler{Coordinator: rc, Timeout: cfg.RequestTimeout}).Register(router)
	if cfg.StripeWebhookSecret != "" {
		(&httpx.WebhookHandler{Secret: cfg.StripeWebhookSecret, Checkout: coord, Refunds: rc, Log: log, Timeout: cfg.RequestTimeout}).Register(router)
	} else {
		log.Warn("STRIPE_WEBHOOK_SECRET unset, /webhook disabled")
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
	_ = shutdownTelemetry(ctx2)
}
