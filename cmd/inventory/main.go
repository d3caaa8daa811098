package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/pavanyn2002/microservices-devops-practice/internal/inventory"
	"github.com/pavanyn2002/microservices-devops-practice/internal/platform"
	"github.com/pavanyn2002/microservices-devops-practice/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := platform.Start(ctx, "inventory", "8082")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to start", "error", err)
		os.Exit(1)
	}
	logger := rt.Logger
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	var (
		store  inventory.Store
		checks map[string]telemetry.Check
	)
	if rt.Config.UsePostgres() {
		if err := rt.Config.Require("postgres.url"); err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}

		db, err := telemetry.OpenDB(ctx, rt.Config.Postgres.URL, rt.Config.Postgres.MaxOpenConns)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		store = inventory.NewPostgresStore(db)
		checks = map[string]telemetry.Check{"postgres": db.PingContext}
	} else {
		logger.Warn("using in-memory stock store")
		store = inventory.NewMemoryStore()
	}

	ledger, err := inventory.NewLedger(store, logger)
	if err != nil {
		logger.Error("failed to create ledger", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	inventory.NewHandler(ledger, logger).Register(mux)

	if err := rt.Serve(ctx, rt.Handler(mux, checks)); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
