package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/pavanyn2002/microservices-devops-practice/internal/idempotency"
	"github.com/pavanyn2002/microservices-devops-practice/internal/inventory"
	"github.com/pavanyn2002/microservices-devops-practice/internal/lookup"
	"github.com/pavanyn2002/microservices-devops-practice/internal/messaging"
	"github.com/pavanyn2002/microservices-devops-practice/internal/orders"
	"github.com/pavanyn2002/microservices-devops-practice/internal/platform"
	"github.com/pavanyn2002/microservices-devops-practice/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := platform.Start(ctx, "orders", "8081")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to start", "error", err)
		os.Exit(1)
	}
	logger := rt.Logger
	cfg := rt.Config
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	if err := cfg.Require("services.users", "services.products", "services.inventory"); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	checks := map[string]telemetry.Check{}

	var store orders.Store
	if cfg.UsePostgres() {
		if err := cfg.Require("postgres.url"); err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		db, err := telemetry.OpenDB(ctx, cfg.Postgres.URL, cfg.Postgres.MaxOpenConns)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		store = orders.NewPostgresStore(db)
		checks["postgres"] = db.PingContext
	} else {
		logger.Warn("using in-memory order store")
		store = orders.NewMemoryStore()
	}

	httpClient := rt.HTTPClient(0)
	lookupCfg := lookup.Config{
		Timeout:     cfg.Lookup.Timeout,
		MaxAttempts: cfg.Lookup.MaxAttempts,
		Backoff:     cfg.Lookup.Backoff,
	}
	users := lookup.NewUserClient(cfg.Services.Users, httpClient, lookupCfg)
	products := lookup.NewProductClient(cfg.Services.Products, httpClient, lookupCfg)
	stock := inventory.NewClient(cfg.Services.Inventory, rt.HTTPClient(cfg.HTTP.WriteTimeout))

	var opts []orders.Option
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		opts = append(opts, orders.WithEventPublisher(producer))
	} else {
		logger.Warn("kafka.brokers not set, order events are not published")
	}

	service, err := orders.NewService(store, users, products, stock, logger, opts...)
	if err != nil {
		logger.Error("failed to create order service", "error", err)
		os.Exit(1)
	}

	var idem orders.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		redisStore := idempotency.NewRedisStore(rdb, "orders", cfg.Redis.IdempotencyTTL)
		idem = redisStore
		checks["redis"] = redisStore.Ping
	} else {
		logger.Warn("redis.addr not set, Idempotency-Key headers are ignored")
	}

	mux := http.NewServeMux()
	orders.NewHandler(service, idem, logger).Register(mux)

	if err := rt.Serve(ctx, rt.Handler(mux, checks)); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
