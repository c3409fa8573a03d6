package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/alert"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/clock"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/config"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/db"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/events"
	httpapi "github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/http"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/idempotency"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/payment"
	"github.com/andreasstove999/ecommerce-system/services/checkout-service-go/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.OTelEnabled,
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTelEndpoint,
	}, logger)
	if err != nil {
		logger.Fatalf("telemetry: %v", err)
	}

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			logger.Fatalf("db migrate: %v", err)
		}
	}

	sqlDB, err := db.OpenSQL(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalf("db connect (orders): %v", err)
	}
	defer sqlDB.Close()

	clk := clock.NewSystem()
	ledger := inventory.NewPostgresLedger(pool)
	orders := order.NewRepository(sqlDB)
	alerts := alert.NewRecorder(pool, logger)
	cache := idempotency.NewCache(idempotency.NewPostgresStore(pool), clk, cfg.IdempotencyTTL, logger)

	// --- AMQP ---
	var (
		conn        *amqp.Connection
		stockEvents inventory.StockEvents
		checkoutEvs checkout.Events
	)
	if cfg.EventsEnabled {
		conn, err = amqp.Dial(cfg.RabbitURL)
		if err != nil {
			logger.Fatalf("connect to RabbitMQ: %v", err)
		}
		defer conn.Close()

		pub, err := events.NewPublisher(conn, events.NewSequences(pool), events.PublisherOptions{Producer: cfg.ServiceName})
		if err != nil {
			logger.Fatalf("start publisher: %v", err)
		}
		defer pub.Close()
		stockEvents, checkoutEvs = pub, pub
	} else {
		logger.Printf("events disabled")
	}

	coord := inventory.NewCoordinator(ledger, stockEvents, logger)
	checker := inventory.NewChecker(ledger)

	svc := checkout.New(checkout.Deps{
		Quotes:   orders,
		Orders:   orders,
		Checker:  checker,
		Reserver: coord,
		Provider: payment.NewClient(payment.ClientOptions{
			BaseURL:   cfg.ProviderURL,
			SecretKey: cfg.ProviderSecret,
			Timeout:   cfg.ProviderTimeout,
		}),
		Cache:  cache,
		Alerts: alerts,
		Events: checkoutEvs,
		Clock:  clk,
		Logger: logger,
	})

	if conn != nil {
		consumer := events.NewConsumer(conn, logger)
		checkpoints := events.NewCheckpoints(pool)
		if err := consumer.Subscribe(ctx, events.PaymentSucceededRoutingKey,
			events.PaymentSucceededHandler(pool, checkpoints, svc, logger)); err != nil {
			logger.Fatalf("start payment.succeeded consumer: %v", err)
		}
		if err := consumer.Subscribe(ctx, events.PaymentFailedRoutingKey,
			events.PaymentFailedHandler(pool, checkpoints, svc, logger)); err != nil {
			logger.Fatalf("start payment.failed consumer: %v", err)
		}
	}

	sweeper := inventory.NewSweeper(coord, ledger, orders, alerts, cache, clk, inventory.SweeperConfig{
		Interval: cfg.SweepInterval,
		TTL:      cfg.ReservationTTL,
	}, logger)
	go sweeper.Run(ctx)

	// --- HTTP ---
	h := httpapi.NewHandler(svc, checker, coord, alerts, pool, logger)
	r := httpapi.NewRouter(h)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Printf("shutdown signal: %s", sig)
	case err := <-errCh:
		logger.Printf("fatal error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	cancel()

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	logger.Printf("shutdown complete")
}
