package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
	"github.com/pavanyn2002/microservices-devops-practice/internal/messaging"
	"github.com/pavanyn2002/microservices-devops-practice/internal/notify"
)

type fakeOrders struct {
	mu      sync.Mutex
	errs    []error
	updates []domain.OrderStatus
}

func (f *fakeOrders) UpdateStatus(_ context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, status)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &domain.Order{ID: id, Status: status}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	errs []error
	sent []notify.Notification
}

func (f *fakeNotifier) Send(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, n)
	return nil
}

func newTestProcessor(orders *fakeOrders, notifier *fakeNotifier) *Processor {
	p := NewProcessor(orders, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.backoff = time.Millisecond
	return p
}

func createdMessage(t *testing.T) messaging.Message {
	t.Helper()
	data, err := json.Marshal(domain.OrderCreatedEvent{
		OrderID:     "o1",
		UserID:      "u1",
		Items:       []domain.OrderItem{{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("5")}},
		TotalAmount: decimal.RequireFromString("10"),
		Timestamp:   time.Now(),
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return messaging.Message{Topic: domain.TopicOrderCreated, Key: "o1", Value: data}
}

var errUnavailable = fmt.Errorf("down: %w", domain.ErrServiceUnavailable)

func TestProcessor_OrderCreated(t *testing.T) {
	t.Run("notifies and confirms", func(t *testing.T) {
		orders, notifier := &fakeOrders{}, &fakeNotifier{}
		if err := newTestProcessor(orders, notifier).Handle(context.Background(), createdMessage(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(notifier.sent) != 1 {
			t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
		}
		if n := notifier.sent[0]; n.UserID != "u1" || !strings.Contains(n.Body, "10.00") {
			t.Errorf("unexpected notification: %+v", n)
		}
		if len(orders.updates) != 1 || orders.updates[0] != domain.OrderStatusConfirmed {
			t.Errorf("expected one CONFIRMED update, got %v", orders.updates)
		}
	})

	t.Run("retries unavailable orders service", func(t *testing.T) {
		orders := &fakeOrders{errs: []error{errUnavailable, nil}}
		if err := newTestProcessor(orders, &fakeNotifier{}).Handle(context.Background(), createdMessage(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders.updates) != 2 {
			t.Errorf("expected 2 attempts, got %d", len(orders.updates))
		}
	})

	t.Run("holds message when orders service stays down", func(t *testing.T) {
		orders := &fakeOrders{errs: []error{errUnavailable, errUnavailable, errUnavailable}}
		err := newTestProcessor(orders, &fakeNotifier{}).Handle(context.Background(), createdMessage(t))
		if !errors.Is(err, domain.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}
		if len(orders.updates) != defaultMaxTries {
			t.Errorf("expected %d attempts, got %d", defaultMaxTries, len(orders.updates))
		}
	})

	t.Run("skips order already cancelled", func(t *testing.T) {
		orders := &fakeOrders{errs: []error{fmt.Errorf("o1: %w", domain.ErrInvalidTransition)}}
		if err := newTestProcessor(orders, &fakeNotifier{}).Handle(context.Background(), createdMessage(t)); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
		if len(orders.updates) != 1 {
			t.Errorf("expected no retry, got %d attempts", len(orders.updates))
		}
	})

	t.Run("notifier down holds message before confirming", func(t *testing.T) {
		orders := &fakeOrders{}
		notifier := &fakeNotifier{errs: []error{errUnavailable, errUnavailable, errUnavailable}}
		err := newTestProcessor(orders, notifier).Handle(context.Background(), createdMessage(t))
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if len(orders.updates) != 0 {
			t.Errorf("expected no status update, got %v", orders.updates)
		}
	})
}

func TestProcessor_StatusChanged(t *testing.T) {
	data, _ := json.Marshal(domain.OrderStatusChangedEvent{
		OrderID: "o1",
		UserID:  "u1",
		From:    domain.OrderStatusConfirmed,
		To:      domain.OrderStatusShipped,
	})

	notifier := &fakeNotifier{}
	err := newTestProcessor(&fakeOrders{}, notifier).Handle(context.Background(),
		messaging.Message{Topic: domain.TopicOrderStatusChanged, Key: "o1", Value: data})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	if got := notifier.sent[0].Subject; got != "Order Shipped: o1" {
		t.Errorf("unexpected subject: %s", got)
	}
}

func TestProcessor_SkipsUnprocessable(t *testing.T) {
	tests := []struct {
		name string
		msg  messaging.Message
	}{
		{name: "malformed created", msg: messaging.Message{Topic: domain.TopicOrderCreated, Value: []byte("{")}},
		{name: "malformed status", msg: messaging.Message{Topic: domain.TopicOrderStatusChanged, Value: []byte("nope")}},
		{name: "unknown topic", msg: messaging.Message{Topic: "payments", Value: []byte("{}")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders, notifier := &fakeOrders{}, &fakeNotifier{}
			if err := newTestProcessor(orders, notifier).Handle(context.Background(), tt.msg); err != nil {
				t.Errorf("expected nil, got %v", err)
			}
			if len(orders.updates) != 0 || len(notifier.sent) != 0 {
				t.Error("expected no side effects")
			}
		})
	}
}
