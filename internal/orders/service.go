package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

const maxConcurrentLookups = 8

// priceScale matches the NUMERIC(12,2) money columns.
const priceScale = 2

var tracer = otel.Tracer("orders/service")

type UserLookup interface {
	LookupUser(ctx context.Context, userID string) (*domain.User, error)
}

type ProductLookup interface {
	LookupProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// StockReserver is satisfied by both the in-process ledger and the remote
// inventory client.
type StockReserver interface {
	Reserve(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)
	Release(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)
	Commit(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}

type Option func(*Service)

func WithEventPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.events = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service orchestrates order creation across the user directory, the
// product catalog, the stock ledger and the order store.
type Service struct {
	store    Store
	users    UserLookup
	products ProductLookup
	stock    StockReserver
	events   EventPublisher
	logger   *slog.Logger
	now      func() time.Time
	outcomes metric.Int64Counter
}

func NewService(store Store, users UserLookup, products ProductLookup, stock StockReserver, logger *slog.Logger, opts ...Option) (*Service, error) {
	outcomes, err := otel.Meter("orders/service").Int64Counter(
		"orders.create.outcomes",
		metric.WithDescription("Order creation attempts by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create outcomes counter: %w", err)
	}

	s := &Service{
		store:    store,
		users:    users,
		products: products,
		stock:    stock,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		outcomes: outcomes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateOrder validates the user and every product, prices the items from
// the catalog, reserves stock for each item and persists the order as
// PENDING. Any reservation already taken is released if a later step fails.
func (s *Service) CreateOrder(ctx context.Context, userID string, items []domain.OrderItem) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "orders.create", trace.WithAttributes(
		attribute.String("order.user_id", userID),
		attribute.Int("order.item_count", len(items)),
	))
	defer func() {
		s.finish(ctx, span, err)
		span.End()
	}()

	if err := validateRequest(userID, items); err != nil {
		return nil, err
	}

	user, err := s.users.LookupUser(ctx, userID)
	if err != nil {
		return nil, unavailable("user lookup", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found: %w", userID, domain.ErrValidationFailed)
	}

	priced, err := s.priceItems(ctx, items)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order = &domain.Order{
		UserID:    userID,
		Items:     priced,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
	}
	order.Recalculate(now)

	sg := newSaga(s.logger)
	for _, item := range order.Items {
		if err := s.reserve(ctx, sg, item); err != nil {
			sg.compensate(ctx)
			return nil, err
		}
	}

	if err := s.store.Create(ctx, order); err != nil {
		failed := sg.compensate(ctx)
		s.logger.Error("failed to persist order", "error", err, "user_id", userID, "unreleased", failed)
		return nil, fmt.Errorf("persist order: %w", err)
	}

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.total_amount", order.TotalAmount.StringFixed(2)),
	)
	s.logger.Info("order created", "order_id", order.ID, "user_id", userID, "total_amount", order.TotalAmount.StringFixed(2))

	s.publish(ctx, domain.TopicOrderCreated, order.ID, domain.OrderCreatedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		Items:       order.Items,
		TotalAmount: order.TotalAmount,
		Timestamp:   order.CreatedAt,
	})

	return order, nil
}

func validateRequest(userID string, items []domain.OrderItem) error {
	if userID == "" {
		return fmt.Errorf("user id is required: %w", domain.ErrInvalidArgument)
	}
	if len(items) == 0 {
		return fmt.Errorf("order must contain at least one item: %w", domain.ErrInvalidArgument)
	}
	for i, item := range items {
		if item.ProductID == "" {
			return fmt.Errorf("item %d: product id is required: %w", i, domain.ErrInvalidArgument)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item %d: quantity must be positive: %w", i, domain.ErrInvalidArgument)
		}
	}
	return nil
}

// priceItems looks up every product concurrently. The result keeps request
// order and carries only catalog prices, rounded to the stored scale so the
// total matches the persisted line items. The first failure aborts the rest.
func (s *Service) priceItems(ctx context.Context, items []domain.OrderItem) ([]domain.OrderItem, error) {
	priced := make([]domain.OrderItem, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)

	for i, item := range items {
		g.Go(func() error {
			product, err := s.products.LookupProduct(gctx, item.ProductID)
			if err != nil {
				return unavailable("product lookup", err)
			}
			if product == nil {
				return fmt.Errorf("product %s not found: %w", item.ProductID, domain.ErrValidationFailed)
			}
			priced[i] = domain.OrderItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: product.Price.Round(priceScale),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return priced, nil
}

func (s *Service) reserve(ctx context.Context, sg *saga, item domain.OrderItem) error {
	_, err := s.stock.Reserve(ctx, item.ProductID, item.Quantity)
	switch {
	case err == nil:
		sg.add("release "+item.ProductID, func(ctx context.Context) error {
			_, err := s.stock.Release(ctx, item.ProductID, item.Quantity)
			return err
		})
		return nil
	case errors.Is(err, domain.ErrInsufficientStock):
		return err
	case errors.Is(err, domain.ErrServiceUnavailable):
		// The remote ledger may have applied the reserve before failing.
		s.logger.Error("reservation outcome unknown", "error", err, "product_id", item.ProductID, "quantity", item.Quantity)
		return err
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("product %s has no inventory record: %w", item.ProductID, domain.ErrValidationFailed)
	default:
		return fmt.Errorf("reserve %s: %w", item.ProductID, err)
	}
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, f Filter) ([]domain.Order, error) {
	return s.store.List(ctx, f)
}

// UpdateStatus applies a transition allowed by the status table. Cancelling
// an order that still holds stock returns that stock to the ledger; shipping
// it commits the reservation.
func (s *Service) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := order.Status
	now := s.now()
	if err := order.TransitionTo(next, now); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, id, from, next, now)
	if err != nil {
		return nil, err
	}

	if from.HoldsStock() && !next.HoldsStock() {
		switch next {
		case domain.OrderStatusCancelled:
			s.releaseAll(ctx, updated)
		case domain.OrderStatusShipped:
			s.commitAll(ctx, updated)
		}
	}

	s.logger.Info("order status updated", "order_id", id, "from", from, "to", next)
	s.publish(ctx, domain.TopicOrderStatusChanged, id, domain.OrderStatusChangedEvent{
		OrderID:   id,
		UserID:    updated.UserID,
		From:      from,
		To:        next,
		Timestamp: now,
	})

	return updated, nil
}

// DeleteOrder removes an order. The delete is guarded by the status that was
// read, so a concurrent cancel cannot cause the same stock to be released twice.
func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, id, order.Status); err != nil {
		return err
	}

	if order.Status.HoldsStock() {
		s.releaseAll(ctx, order)
	}

	s.logger.Info("order deleted", "order_id", id)
	return nil
}

func (s *Service) releaseAll(ctx context.Context, order *domain.Order) {
	s.settleStock(ctx, order, "release", s.stock.Release)
}

func (s *Service) commitAll(ctx context.Context, order *domain.Order) {
	s.settleStock(ctx, order, "commit", s.stock.Commit)
}

// settleStock applies op to every item of order, continuing past failures.
func (s *Service) settleStock(ctx context.Context, order *domain.Order, name string, op func(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)) {
	sg := newSaga(s.logger)
	for _, item := range order.Items {
		sg.add(name+" "+item.ProductID, func(ctx context.Context) error {
			_, err := op(ctx, item.ProductID, item.Quantity)
			return err
		})
	}
	if failed := sg.compensate(ctx); failed > 0 {
		s.logger.Error("stock not fully settled", "op", name, "order_id", order.ID, "failed", failed)
	}
}

func (s *Service) publish(ctx context.Context, topic, key string, event any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, topic, key, event); err != nil {
		s.logger.Error("failed to publish event", "error", err, "topic", topic, "order_id", key)
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, err error) {
	outcome := "created"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrValidationFailed):
		outcome = "rejected"
	case errors.Is(err, domain.ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, domain.ErrServiceUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	if err != nil {
		span.RecordError(err)
		if outcome == "error" || outcome == "unavailable" {
			span.SetStatus(codes.Error, err.Error())
		}
	}

	span.SetAttributes(attribute.String("order.outcome", outcome))
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// unavailable classifies a lookup failure as transient. A lookup client
// only returns an error for communication problems; absence is a nil result.
func unavailable(step string, err error) error {
	return fmt.Errorf("%s: %w: %w", step, domain.ErrServiceUnavailable, err)
}
