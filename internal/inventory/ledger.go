package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

// DefaultLowStockThreshold is used when a caller asks for low stock without a threshold.
const DefaultLowStockThreshold = 10

// reservedProductIDs collide with the fixed /stock listing routes.
var reservedProductIDs = []string{"available", "low"}

var tracer = otel.Tracer("inventory/ledger")

// Ledger is the stock reservation service. It validates arguments and
// delegates the atomic check-and-mutate to its Store.
type Ledger struct {
	store      Store
	logger     *slog.Logger
	operations metric.Int64Counter
}

func NewLedger(store Store, logger *slog.Logger) (*Ledger, error) {
	operations, err := otel.Meter("inventory/ledger").Int64Counter(
		"inventory.ledger.operations",
		metric.WithDescription("Stock ledger mutations by operation and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create operations counter: %w", err)
	}

	return &Ledger{
		store:      store,
		logger:     logger,
		operations: operations,
	}, nil
}

func (l *Ledger) Create(ctx context.Context, productID string, initialAvailable int) (*domain.InventoryRecord, error) {
	if productID == "" {
		return nil, fmt.Errorf("product id is required: %w", domain.ErrInvalidArgument)
	}
	if slices.Contains(reservedProductIDs, productID) {
		return nil, fmt.Errorf("product id %q is reserved: %w", productID, domain.ErrInvalidArgument)
	}
	if initialAvailable < 0 {
		return nil, fmt.Errorf("initial stock must not be negative: %w", domain.ErrInvalidArgument)
	}

	rec := &domain.InventoryRecord{ProductID: productID, Available: initialAvailable}
	if err := l.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	l.logger.Info("inventory record created", "product_id", productID, "available", initialAvailable)
	return rec, nil
}

func (l *Ledger) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	return l.store.Get(ctx, productID)
}

func (l *Ledger) SetAvailable(ctx context.Context, productID string, available int) (*domain.InventoryRecord, error) {
	if available < 0 {
		return nil, fmt.Errorf("available stock must not be negative: %w", domain.ErrInvalidArgument)
	}

	rec, err := l.store.SetAvailable(ctx, productID, available)
	if err != nil {
		return nil, err
	}

	l.logger.Info("available stock set", "product_id", productID, "available", available)
	return rec, nil
}

func (l *Ledger) Reserve(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	ctx, span := l.startSpan(ctx, "inventory.reserve", productID, quantity)
	defer span.End()

	if quantity <= 0 {
		err := fmt.Errorf("reserve quantity must be positive: %w", domain.ErrInvalidArgument)
		l.record(ctx, span, "reserve", err)
		return nil, err
	}

	rec, err := l.store.Reserve(ctx, productID, quantity)
	l.record(ctx, span, "reserve", err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("inventory.available", rec.Available))
	l.logger.Debug("stock reserved", "product_id", productID, "quantity", quantity, "available", rec.Available)
	return rec, nil
}

func (l *Ledger) Release(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	ctx, span := l.startSpan(ctx, "inventory.release", productID, quantity)
	defer span.End()

	if quantity <= 0 {
		err := fmt.Errorf("release quantity must be positive: %w", domain.ErrInvalidArgument)
		l.record(ctx, span, "release", err)
		return nil, err
	}

	rec, err := l.store.Release(ctx, productID, quantity)
	l.record(ctx, span, "release", err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("inventory.available", rec.Available))
	l.logger.Debug("stock released", "product_id", productID, "quantity", quantity, "available", rec.Available)
	return rec, nil
}

// Commit finalizes a reservation: the units leave reserved stock for good.
func (l *Ledger) Commit(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	ctx, span := l.startSpan(ctx, "inventory.commit", productID, quantity)
	defer span.End()

	if quantity <= 0 {
		err := fmt.Errorf("commit quantity must be positive: %w", domain.ErrInvalidArgument)
		l.record(ctx, span, "commit", err)
		return nil, err
	}

	rec, err := l.store.Commit(ctx, productID, quantity)
	l.record(ctx, span, "commit", err)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("inventory.reserved", rec.Reserved))
	l.logger.Debug("reservation committed", "product_id", productID, "quantity", quantity, "reserved", rec.Reserved)
	return rec, nil
}

// IsAvailable is a read-only check. An unknown product is simply unavailable.
func (l *Ledger) IsAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	rec, err := l.store.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.Available >= quantity, nil
}

func (l *Ledger) List(ctx context.Context) ([]domain.InventoryRecord, error) {
	return l.store.List(ctx)
}

func (l *Ledger) ListAvailable(ctx context.Context) ([]domain.InventoryRecord, error) {
	return l.store.ListAvailable(ctx)
}

func (l *Ledger) ListLowStock(ctx context.Context, threshold int) ([]domain.InventoryRecord, error) {
	return l.store.ListBelow(ctx, threshold)
}

func (l *Ledger) Delete(ctx context.Context, productID string) error {
	if err := l.store.Delete(ctx, productID); err != nil {
		return err
	}

	l.logger.Info("inventory record deleted", "product_id", productID)
	return nil
}

func (l *Ledger) startSpan(ctx context.Context, name, productID string, quantity int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("inventory.product_id", productID),
		attribute.Int("inventory.quantity", quantity),
	))
}

func (l *Ledger) record(ctx context.Context, span trace.Span, op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, domain.ErrInsufficientStock):
		outcome = "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidArgument):
		outcome = "invalid_argument"
	case errors.Is(err, domain.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(attribute.String("inventory.outcome", outcome))
	l.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	))
}
