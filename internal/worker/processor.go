package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
	"github.com/pavanyn2002/microservices-devops-practice/internal/messaging"
	"github.com/pavanyn2002/microservices-devops-practice/internal/notify"
)

const defaultMaxTries = 3

// Topics lists every topic the processor understands.
var Topics = []string{domain.TopicOrderCreated, domain.TopicOrderStatusChanged}

type OrderUpdater interface {
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error)
}

type Notifier interface {
	Send(ctx context.Context, n notify.Notification) error
}

// Processor reacts to order events: new orders are acknowledged to the
// customer and confirmed, and every status change is reported to the
// customer.
type Processor struct {
	orders   OrderUpdater
	notifier Notifier
	logger   *slog.Logger
	maxTries uint
	backoff  time.Duration
}

func NewProcessor(orders OrderUpdater, notifier Notifier, logger *slog.Logger) *Processor {
	return &Processor{
		orders:   orders,
		notifier: notifier,
		logger:   logger,
		maxTries: defaultMaxTries,
		backoff:  200 * time.Millisecond,
	}
}

// Handle is a messaging.HandlerFunc. Malformed or unknown messages are
// logged and skipped; an error is returned only when a downstream service
// stayed unavailable, leaving the message uncommitted.
func (p *Processor) Handle(ctx context.Context, msg messaging.Message) error {
	switch msg.Topic {
	case domain.TopicOrderCreated:
		var event domain.OrderCreatedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			p.logger.Error("skipping malformed event", "error", err, "topic", msg.Topic, "key", msg.Key)
			return nil
		}
		return p.orderCreated(ctx, event)

	case domain.TopicOrderStatusChanged:
		var event domain.OrderStatusChangedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			p.logger.Error("skipping malformed event", "error", err, "topic", msg.Topic, "key", msg.Key)
			return nil
		}
		return p.statusChanged(ctx, event)

	default:
		p.logger.Warn("skipping event from unknown topic", "topic", msg.Topic, "key", msg.Key)
		return nil
	}
}

func (p *Processor) orderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	p.logger.Info("processing order created event", "order_id", event.OrderID, "user_id", event.UserID)

	err := p.retry(ctx, func() error {
		return p.notifier.Send(ctx, notify.Notification{
			UserID:  event.UserID,
			OrderID: event.OrderID,
			Subject: "Order received: " + event.OrderID,
			Body:    fmt.Sprintf("We received your order %s with %d items, total %s.", event.OrderID, len(event.Items), event.TotalAmount.StringFixed(2)),
		})
	})
	if err != nil {
		return p.settle(err, "send receipt", event.OrderID)
	}

	err = p.retry(ctx, func() error {
		_, err := p.orders.UpdateStatus(ctx, event.OrderID, domain.OrderStatusConfirmed)
		return err
	})
	if err != nil {
		return p.settle(err, "confirm order", event.OrderID)
	}

	p.logger.Info("order confirmed", "order_id", event.OrderID)
	return nil
}

func (p *Processor) statusChanged(ctx context.Context, event domain.OrderStatusChangedEvent) error {
	err := p.retry(ctx, func() error {
		return p.notifier.Send(ctx, notify.Notification{
			UserID:  event.UserID,
			OrderID: event.OrderID,
			Subject: fmt.Sprintf("Order %s: %s", statusWord(event.To), event.OrderID),
			Body:    fmt.Sprintf("Your order %s changed from %s to %s.", event.OrderID, event.From, event.To),
		})
	})
	if err != nil {
		return p.settle(err, "send status update", event.OrderID)
	}
	return nil
}

// retry repeats op while it fails with ErrServiceUnavailable.
func (p *Processor) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.backoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !errors.Is(err, domain.ErrServiceUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(p.maxTries),
	)
	return err
}

// settle decides whether a failed step should hold the message back.
// Only an unavailable dependency does; anything else cannot succeed on
// redelivery.
func (p *Processor) settle(err error, step, orderID string) error {
	switch {
	case errors.Is(err, domain.ErrServiceUnavailable):
		p.logger.Error("dependency unavailable", "error", err, "step", step, "order_id", orderID)
		return fmt.Errorf("%s for order %s: %w", step, orderID, err)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
		p.logger.Info("order moved on before processing, skipping", "step", step, "order_id", orderID, "reason", err)
		return nil
	default:
		p.logger.Error("step failed, skipping", "error", err, "step", step, "order_id", orderID)
		return nil
	}
}

func statusWord(s domain.OrderStatus) string {
	switch s {
	case domain.OrderStatusConfirmed:
		return "Confirmed"
	case domain.OrderStatusShipped:
		return "Shipped"
	case domain.OrderStatusDelivered:
		return "Delivered"
	case domain.OrderStatusCancelled:
		return "Cancelled"
	default:
		return "Updated"
	}
}
