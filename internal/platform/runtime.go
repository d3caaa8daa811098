// Package platform wires the pieces every service binary starts with:
// configuration, logging, tracing, metrics and an HTTP server with graceful
// shutdown.
package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pavanyn2002/microservices-devops-practice/internal/config"
	"github.com/pavanyn2002/microservices-devops-practice/internal/telemetry"
)

type Runtime struct {
	Service string
	Config  config.Config
	Logger  *slog.Logger
	Metrics http.Handler

	closers []func(context.Context) error
}

// Start loads configuration for service and installs the logger, tracer
// provider and meter provider. port is the default listen port.
func Start(ctx context.Context, service, port string) (*Runtime, error) {
	cfg, err := config.Load(service, port)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := telemetry.NewLogger(service, cfg.Log.Level, cfg.Log.File)
	rt := &Runtime{
		Service: service,
		Config:  cfg,
		Logger:  logger,
	}
	rt.OnClose(func(context.Context) error { return closeLog() })

	endpoint := cfg.Telemetry.OTLPEndpoint
	if !cfg.Telemetry.TracingEnabled {
		endpoint = ""
	}
	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, endpoint)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	rt.OnClose(shutdownTracer)

	metrics, shutdownMeter, err := telemetry.InitMeterProvider(cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("init meter: %w", err)
	}
	rt.Metrics = metrics
	rt.OnClose(shutdownMeter)

	return rt, nil
}

// OnClose registers fn to run during Close. Functions run in reverse
// registration order.
func (rt *Runtime) OnClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// HTTPClient returns a client whose requests carry trace context.
func (rt *Runtime) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Handler mounts /health and /metrics on mux and wraps it with server
// instrumentation.
func (rt *Runtime) Handler(mux *http.ServeMux, checks map[string]telemetry.Check) http.Handler {
	if !hasHealthRoute(mux) {
		mux.HandleFunc("GET /health", telemetry.HealthHandler(rt.Service, checks))
	}
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	return otelhttp.NewHandler(telemetry.TagRoute(mux), rt.Service,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func hasHealthRoute(mux *http.ServeMux) bool {
	req, err := http.NewRequest(http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	_, pattern := mux.Handler(req)
	return pattern != ""
}

// Serve runs handler until ctx is cancelled, then shuts the server down
// within the configured shutdown timeout.
func (rt *Runtime) Serve(ctx context.Context, handler http.Handler) error {
	cfg := rt.Config.HTTP
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.Logger.Info("starting "+rt.Service+" service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
