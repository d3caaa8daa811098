package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pavanyn2002/microservices-devops-practice/internal/notify"
	"github.com/pavanyn2002/microservices-devops-practice/internal/platform"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := platform.Start(ctx, "notify", "8084")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	mux := http.NewServeMux()
	notify.NewHandler(notify.NewOutbox(notify.DefaultOutboxSize), rt.Logger).Register(mux)

	if err := rt.Serve(ctx, rt.Handler(mux, nil)); err != nil {
		rt.Logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
