package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testConfig() Config {
	return Config{
		Timeout:     50 * time.Millisecond,
		MaxAttempts: 2,
		Backoff:     5 * time.Millisecond,
	}
}

func TestUserClient_LookupUser(t *testing.T) {
	t.Run("returns user on 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/users/42" {
				t.Errorf("expected /users/42, got %s", r.URL.Path)
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"42","username":"ada","email":"ada@example.com"}`))
		}))
		defer server.Close()

		client := NewUserClient(server.URL, server.Client(), testConfig())
		user, err := client.LookupUser(context.Background(), "42")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user == nil || user.Username != "ada" {
			t.Errorf("expected user ada, got %+v", user)
		}
	})

	t.Run("404 is a nil result, not an error", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := NewUserClient(server.URL, server.Client(), testConfig())
		user, err := client.LookupUser(context.Background(), "nobody")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user != nil {
			t.Errorf("expected nil user, got %+v", user)
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})

	t.Run("5xx is a communication failure without retry", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewUserClient(server.URL, server.Client(), testConfig())
		_, err := client.LookupUser(context.Background(), "42")
		if !errors.Is(err, ErrCommunication) {
			t.Fatalf("expected ErrCommunication, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})

	t.Run("unreachable service is a communication failure", func(t *testing.T) {
		client := NewUserClient("http://localhost:99999", &http.Client{}, testConfig())
		_, err := client.LookupUser(context.Background(), "42")
		if !errors.Is(err, ErrCommunication) {
			t.Fatalf("expected ErrCommunication, got %v", err)
		}
	})

	t.Run("malformed body is a communication failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer server.Close()

		client := NewUserClient(server.URL, server.Client(), testConfig())
		_, err := client.LookupUser(context.Background(), "42")
		if !errors.Is(err, ErrCommunication) {
			t.Fatalf("expected ErrCommunication, got %v", err)
		}
	})
}

func TestProductClient_Timeouts(t *testing.T) {
	t.Run("retries once after a timeout", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
				return
			}
			_, _ = w.Write([]byte(`{"id":"p1","name":"Widget","price":10.00}`))
		}))
		defer server.Close()

		client := NewProductClient(server.URL, server.Client(), testConfig())
		product, err := client.LookupProduct(context.Background(), "p1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !product.Price.Equal(decimal.NewFromInt(10)) {
			t.Errorf("expected price 10, got %s", product.Price)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer server.Close()

		client := NewProductClient(server.URL, server.Client(), testConfig())
		_, err := client.LookupProduct(context.Background(), "p1")
		if !errors.Is(err, ErrCommunication) {
			t.Fatalf("expected ErrCommunication, got %v", err)
		}
		if calls.Load() != 2 {
			t.Errorf("expected 2 calls, got %d", calls.Load())
		}
	})

	t.Run("single attempt when retries are disabled", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		}))
		defer server.Close()

		cfg := testConfig()
		cfg.MaxAttempts = 1
		client := NewProductClient(server.URL, server.Client(), cfg)
		_, err := client.LookupProduct(context.Background(), "p1")
		if !errors.Is(err, ErrCommunication) {
			t.Fatalf("expected ErrCommunication, got %v", err)
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 call, got %d", calls.Load())
		}
	})
}
