package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pavanyn2002/microservices-devops-practice/internal/config"
	"github.com/pavanyn2002/microservices-devops-practice/internal/telemetry"
)

func newTestRuntime() *Runtime {
	return &Runtime{
		Service: "test",
		Config:  config.Default("test", "0"),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	}
}

func TestRuntime_Close(t *testing.T) {
	rt := newTestRuntime()

	var order []string
	rt.OnClose(func(context.Context) error { order = append(order, "first"); return nil })
	rt.OnClose(func(context.Context) error { order = append(order, "second"); return errors.New("boom") })
	rt.OnClose(func(context.Context) error { order = append(order, "third"); return nil })

	err := rt.Close(context.Background())
	if err == nil || err.Error() != "boom" {
		t.Errorf("expected boom, got %v", err)
	}
	if len(order) != 3 || order[0] != "third" || order[2] != "first" {
		t.Errorf("expected reverse order, got %v", order)
	}

	if err := rt.Close(context.Background()); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
}

func TestRuntime_Handler(t *testing.T) {
	t.Run("mounts health and metrics", func(t *testing.T) {
		rt := newTestRuntime()
		mux := http.NewServeMux()
		mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})

		h := rt.Handler(mux, map[string]telemetry.Check{
			"db": func(context.Context) error { return errors.New("down") },
		})

		tests := []struct {
			path   string
			status int
		}{
			{path: "/ping", status: http.StatusNoContent},
			{path: "/health", status: http.StatusServiceUnavailable},
			{path: "/metrics", status: http.StatusOK},
		}
		for _, tt := range tests {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("%s: expected status %d, got %d", tt.path, tt.status, rec.Code)
			}
		}
	})

	t.Run("keeps an existing health route", func(t *testing.T) {
		rt := newTestRuntime()
		mux := http.NewServeMux()
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})

		rec := httptest.NewRecorder()
		rt.Handler(mux, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusTeapot {
			t.Errorf("expected custom health handler, got %d", rec.Code)
		}
	})
}

func TestRuntime_Serve(t *testing.T) {
	rt := newTestRuntime()
	rt.Config.HTTP.ShutdownTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx, http.NewServeMux()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
