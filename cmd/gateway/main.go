package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pavanyn2002/microservices-devops-practice/internal/gateway"
	"github.com/pavanyn2002/microservices-devops-practice/internal/platform"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := platform.Start(ctx, "gateway", "8080")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to start", "error", err)
		os.Exit(1)
	}
	logger := rt.Logger
	cfg := rt.Config
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	if err := cfg.Require("services.orders", "services.inventory"); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	httpClient := rt.HTTPClient(cfg.HTTP.WriteTimeout)

	var extra []*gateway.ServiceProxy
	if cfg.Services.Notify != "" {
		extra = append(extra, gateway.NewServiceProxy("notify", cfg.Services.Notify, httpClient))
	}

	handler := gateway.NewHandler(
		gateway.NewServiceProxy("orders", cfg.Services.Orders, httpClient),
		gateway.NewServiceProxy("inventory", cfg.Services.Inventory, httpClient),
		logger,
		extra...,
	)

	mux := http.NewServeMux()
	handler.Register(mux)

	if err := rt.Serve(ctx, rt.Handler(mux, nil)); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
