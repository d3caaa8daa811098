//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
	"github.com/pavanyn2002/microservices-devops-practice/internal/idempotency"
	"github.com/pavanyn2002/microservices-devops-practice/internal/inventory"
	"github.com/pavanyn2002/microservices-devops-practice/internal/lookup"
	"github.com/pavanyn2002/microservices-devops-practice/internal/messaging"
	"github.com/pavanyn2002/microservices-devops-practice/internal/notify"
	"github.com/pavanyn2002/microservices-devops-practice/internal/orders"
	"github.com/pavanyn2002/microservices-devops-practice/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// catalogServer serves the user directory and the product catalog.
func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()

	users := map[string]domain.User{
		"u1": {ID: "u1", Username: "alice", Email: "alice@example.com"},
	}
	products := map[string]domain.Product{
		"PROD-001": {ID: "PROD-001", Name: "Keyboard", Price: decimal.RequireFromString("49.90")},
		"PROD-002": {ID: "PROD-002", Name: "Mouse", Price: decimal.RequireFromString("19.95")},
		"PROD-004": {ID: "PROD-004", Name: "Monitor", Price: decimal.RequireFromString("199.00")},
		"PROD-005": {ID: "PROD-005", Name: "Webcam", Price: decimal.RequireFromString("59.00")},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		u, ok := users[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(u)
	})
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		p, ok := products[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(p)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type stack struct {
	ledger     *inventory.Ledger
	orderStore *orders.PostgresStore
	service    *orders.Service
	ordersURL  string
}

// newStack runs the inventory and orders services over Postgres, talking to
// each other through HTTP the way the deployed binaries do.
func newStack(t *testing.T, connStr string, idem orders.IdempotencyStore, opts ...orders.Option) *stack {
	t.Helper()
	logger := discardLogger()
	db := OpenDB(t, connStr)

	ledger, err := inventory.NewLedger(inventory.NewPostgresStore(db), logger)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	inventoryMux := http.NewServeMux()
	inventory.NewHandler(ledger, logger).Register(inventoryMux)
	inventoryServer := httptest.NewServer(inventoryMux)
	t.Cleanup(inventoryServer.Close)

	catalog := catalogServer(t)
	httpClient := &http.Client{Timeout: 10 * time.Second}

	orderStore := orders.NewPostgresStore(db)
	service, err := orders.NewService(
		orderStore,
		lookup.NewUserClient(catalog.URL, httpClient, lookup.DefaultConfig()),
		lookup.NewProductClient(catalog.URL, httpClient, lookup.DefaultConfig()),
		inventory.NewClient(inventoryServer.URL, httpClient),
		logger,
		opts...,
	)
	if err != nil {
		t.Fatalf("failed to create order service: %v", err)
	}

	ordersMux := http.NewServeMux()
	orders.NewHandler(service, idem, logger).Register(ordersMux)
	ordersServer := httptest.NewServer(ordersMux)
	t.Cleanup(ordersServer.Close)

	return &stack{
		ledger:     ledger,
		orderStore: orderStore,
		service:    service,
		ordersURL:  ordersServer.URL,
	}
}

func (s *stack) available(t *testing.T, productID string) int {
	t.Helper()
	rec, err := s.ledger.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("failed to get %s: %v", productID, err)
	}
	return rec.Available
}

func postOrder(t *testing.T, url, body, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/orders", strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestLedgerOnPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	ledger, err := inventory.NewLedger(inventory.NewPostgresStore(OpenDB(t, pg.ConnStr)), discardLogger())
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	t.Run("seeded records", func(t *testing.T) {
		rec, err := ledger.Get(ctx, "PROD-001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Available != 100 || rec.Reserved != 0 {
			t.Errorf("expected 100/0, got %d/%d", rec.Available, rec.Reserved)
		}

		low, err := ledger.ListLowStock(ctx, inventory.DefaultLowStockThreshold)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(low) != 2 || low[0].ProductID != "PROD-005" {
			t.Errorf("expected PROD-005 then PROD-004 below threshold, got %+v", low)
		}
	})

	t.Run("create rejects duplicates", func(t *testing.T) {
		if _, err := ledger.Create(ctx, "NEW-1", 3); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := ledger.Create(ctx, "NEW-1", 3); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("reserve and release conserve stock", func(t *testing.T) {
		rec, err := ledger.Reserve(ctx, "PROD-002", 20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Available != 30 || rec.Reserved != 20 {
			t.Errorf("expected 30/20, got %d/%d", rec.Available, rec.Reserved)
		}

		if _, err := ledger.Reserve(ctx, "PROD-002", 31); !errors.Is(err, domain.ErrInsufficientStock) {
			t.Errorf("expected ErrInsufficientStock, got %v", err)
		}

		rec, err = ledger.Release(ctx, "PROD-002", 20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.TotalStock() != 50 || rec.Reserved != 0 {
			t.Errorf("expected total 50 with nothing reserved, got %+v", rec)
		}

		if _, err := ledger.Release(ctx, "PROD-002", 1); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument releasing unreserved stock, got %v", err)
		}
		if _, err := ledger.Reserve(ctx, "MISSING", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("commit drops reserved units", func(t *testing.T) {
		if _, err := ledger.Reserve(ctx, "PROD-003", 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := ledger.Commit(ctx, "PROD-003", 6); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument committing beyond reserved, got %v", err)
		}

		rec, err := ledger.Commit(ctx, "PROD-003", 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Available != 20 || rec.Reserved != 0 {
			t.Errorf("expected 20/0, got %d/%d", rec.Available, rec.Reserved)
		}
	})

	t.Run("concurrent reservations never oversell", func(t *testing.T) {
		if _, err := ledger.Create(ctx, "HOT", 20); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
		)
		for range 60 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := ledger.Reserve(ctx, "HOT", 1); err == nil {
					successes.Add(1)
				} else if !errors.Is(err, domain.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if got := successes.Load(); got != 20 {
			t.Errorf("expected 20 successful reservations, got %d", got)
		}
		rec, err := ledger.Get(ctx, "HOT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Available != 0 || rec.Reserved != 20 {
			t.Errorf("expected 0/20, got %d/%d", rec.Available, rec.Reserved)
		}
	})
}

func TestOrderFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	s := newStack(t, pg.ConnStr, nil)

	t.Run("creates priced order and reserves stock", func(t *testing.T) {
		resp := postOrder(t, s.ordersURL,
			`{"user_id":"u1","items":[{"product_id":"PROD-001","quantity":2,"unit_price":"0.01"},{"product_id":"PROD-002","quantity":1}]}`, "")
		if resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("expected status 201, got %d: %s", resp.StatusCode, body)
		}

		var created domain.Order
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			t.Fatalf("failed to decode order: %v", err)
		}
		if !created.TotalAmount.Equal(decimal.RequireFromString("119.75")) {
			t.Errorf("expected total 119.75 from catalog prices, got %s", created.TotalAmount)
		}

		stored, err := s.orderStore.GetByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("failed to load order: %v", err)
		}
		if len(stored.Items) != 2 || stored.Items[0].ProductID != "PROD-001" {
			t.Errorf("expected items in request order, got %+v", stored.Items)
		}
		if !stored.TotalAmount.Equal(created.TotalAmount) {
			t.Errorf("expected stored total %s, got %s", created.TotalAmount, stored.TotalAmount)
		}

		if got := s.available(t, "PROD-001"); got != 98 {
			t.Errorf("expected 98 available, got %d", got)
		}

		cancelled, err := s.service.UpdateStatus(ctx, created.ID, domain.OrderStatusCancelled)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cancelled.Status != domain.OrderStatusCancelled {
			t.Errorf("expected CANCELLED, got %s", cancelled.Status)
		}
		if got := s.available(t, "PROD-001"); got != 100 {
			t.Errorf("expected stock returned on cancel, got %d", got)
		}

		if _, err := s.service.UpdateStatus(ctx, created.ID, domain.OrderStatusConfirmed); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition from terminal status, got %v", err)
		}
	})

	t.Run("insufficient stock rolls back earlier reservations", func(t *testing.T) {
		before := s.available(t, "PROD-004")

		resp := postOrder(t, s.ordersURL,
			`{"user_id":"u1","items":[{"product_id":"PROD-004","quantity":3},{"product_id":"PROD-005","quantity":1}]}`, "")
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", resp.StatusCode)
		}

		if got := s.available(t, "PROD-004"); got != before {
			t.Errorf("expected PROD-004 back at %d, got %d", before, got)
		}
		rec, err := s.ledger.Get(ctx, "PROD-004")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Reserved != 0 {
			t.Errorf("expected nothing left reserved, got %d", rec.Reserved)
		}

		list, err := s.orderStore.List(ctx, orders.Filter{UserID: "u1", Status: domain.OrderStatusPending})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no pending orders persisted, got %d", len(list))
		}
	})

	t.Run("unknown user and product are rejected", func(t *testing.T) {
		resp := postOrder(t, s.ordersURL, `{"user_id":"ghost","items":[{"product_id":"PROD-001","quantity":1}]}`, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown user, got %d", resp.StatusCode)
		}

		resp = postOrder(t, s.ordersURL, `{"user_id":"u1","items":[{"product_id":"NOPE","quantity":1}]}`, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400 for unknown product, got %d", resp.StatusCode)
		}
	})
}

func TestIdempotencyOnRedis(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rdb, cleanupRedis := SetupRedis(ctx, t)
	defer cleanupRedis()

	t.Run("lock is exclusive and token-guarded", func(t *testing.T) {
		a := idempotency.NewRedisStore(rdb, "test", time.Minute)
		b := idempotency.NewRedisStore(rdb, "test", time.Minute)

		ok, err := a.TryLock(ctx, "k1")
		if err != nil || !ok {
			t.Fatalf("expected lock, got %v %v", ok, err)
		}
		if ok, _ := b.TryLock(ctx, "k1"); ok {
			t.Error("expected second lock to fail")
		}
		if err := b.Unlock(ctx, "k1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok, _ := b.TryLock(ctx, "k1"); ok {
			t.Error("expected lock to survive unlock by a non-owner")
		}
		if err := a.Unlock(ctx, "k1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok, _ := b.TryLock(ctx, "k1"); !ok {
			t.Error("expected lock after owner released it")
		}
	})

	t.Run("recall returns remembered id", func(t *testing.T) {
		store := idempotency.NewRedisStore(rdb, "test", time.Minute)
		if _, ok, err := store.Recall(ctx, "k2"); ok || err != nil {
			t.Fatalf("expected miss, got %v %v", ok, err)
		}
		if err := store.Remember(ctx, "k2", "order-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		id, ok, err := store.Recall(ctx, "k2")
		if err != nil || !ok || id != "order-1" {
			t.Errorf("expected order-1, got %q %v %v", id, ok, err)
		}
	})

	t.Run("replayed order request reserves once", func(t *testing.T) {
		pg := SetupPostgres(ctx, t)
		defer pg.Cleanup()

		s := newStack(t, pg.ConnStr, idempotency.NewRedisStore(rdb, "orders", time.Minute))
		body := `{"user_id":"u1","items":[{"product_id":"PROD-001","quantity":5}]}`

		first := postOrder(t, s.ordersURL, body, "replay-me")
		if first.StatusCode != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", first.StatusCode)
		}
		second := postOrder(t, s.ordersURL, body, "replay-me")
		if second.StatusCode != http.StatusOK || second.Header.Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected replayed 200, got %d", second.StatusCode)
		}

		if got := s.available(t, "PROD-001"); got != 95 {
			t.Errorf("expected one reservation of 5, got %d available", got)
		}
	})
}

func TestOrderEventsThroughKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	s := newStack(t, pg.ConnStr, nil, orders.WithEventPublisher(producer))

	outbox := notify.NewOutbox(10)
	notifyMux := http.NewServeMux()
	notify.NewHandler(outbox, discardLogger()).Register(notifyMux)
	notifyServer := httptest.NewServer(notifyMux)
	defer notifyServer.Close()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	processor := worker.NewProcessor(
		orders.NewClient(s.ordersURL, httpClient),
		notify.NewClient(notifyServer.URL, httpClient),
		discardLogger(),
	)

	order, err := s.service.CreateOrder(ctx, "u1", []domain.OrderItem{{ProductID: "PROD-002", Quantity: 2}})
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, "integration-worker", worker.Topics, messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stopConsumer := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- consumer.Consume(consumeCtx, processor.Handle) }()

	deadline := time.After(90 * time.Second)
	for {
		stored, err := s.orderStore.GetByID(ctx, order.ID)
		if err != nil {
			t.Fatalf("failed to load order: %v", err)
		}
		if stored.Status == domain.OrderStatusConfirmed && len(outbox.List("u1")) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("order not confirmed in time: status %s, notifications %d", stored.Status, len(outbox.List("u1")))
		case err := <-done:
			t.Fatalf("consumer stopped early: %v", err)
		case <-time.After(500 * time.Millisecond):
		}
	}

	stopConsumer()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("unexpected consumer error: %v", err)
	}

	notes := outbox.List("u1")
	var received, confirmed bool
	for _, n := range notes {
		if n.OrderID != order.ID {
			continue
		}
		received = received || strings.HasPrefix(n.Subject, "Order received")
		confirmed = confirmed || strings.HasPrefix(n.Subject, "Order Confirmed")
	}
	if !received || !confirmed {
		t.Errorf("expected receipt and confirmation notifications, got %+v", notes)
	}
}
