package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pavanyn2002/microservices-devops-practice/internal/messaging"
	"github.com/pavanyn2002/microservices-devops-practice/internal/notify"
	"github.com/pavanyn2002/microservices-devops-practice/internal/orders"
	"github.com/pavanyn2002/microservices-devops-practice/internal/platform"
	"github.com/pavanyn2002/microservices-devops-practice/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := platform.Start(ctx, "worker", "8085")
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to start", "error", err)
		os.Exit(1)
	}
	logger := rt.Logger
	cfg := rt.Config
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	if err := cfg.Require("kafka.brokers", "services.orders", "services.notify"); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	brokers := cfg.KafkaBrokers()
	consumer := messaging.NewConsumer(brokers, cfg.Kafka.GroupID, worker.Topics)
	defer func() { _ = consumer.Close() }()

	httpClient := rt.HTTPClient(cfg.HTTP.WriteTimeout)
	processor := worker.NewProcessor(
		orders.NewClient(cfg.Services.Orders, httpClient),
		notify.NewClient(cfg.Services.Notify, httpClient),
		logger,
	)

	consumeErr := make(chan error, 1)
	go func() {
		logger.Info("starting order event worker", "brokers", brokers, "topics", worker.Topics, "group_id", cfg.Kafka.GroupID)
		err := consumer.Consume(ctx, processor.Handle)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		consumeErr <- err
		stop()
	}()

	if err := rt.Serve(ctx, rt.Handler(http.NewServeMux(), nil)); err != nil {
		logger.Error("server stopped", "error", err)
	}

	if err := <-consumeErr; err != nil {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}
