package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

// Store persists inventory records. Reserve and Release must perform the
// stock check and the mutation as one atomic step for the given product.
type Store interface {
	Create(ctx context.Context, rec *domain.InventoryRecord) error
	Get(ctx context.Context, productID string) (*domain.InventoryRecord, error)
	SetAvailable(ctx context.Context, productID string, available int) (*domain.InventoryRecord, error)
	Reserve(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)
	Release(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)
	// Commit drops reserved units that left the warehouse. Available is untouched.
	Commit(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error)
	Delete(ctx context.Context, productID string) error
	List(ctx context.Context) ([]domain.InventoryRecord, error)
	ListAvailable(ctx context.Context) ([]domain.InventoryRecord, error)
	ListBelow(ctx context.Context, threshold int) ([]domain.InventoryRecord, error)
}

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, rec *domain.InventoryRecord) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory.items (product_id, available, reserved, updated_at)
		VALUES ($1, $2, 0, NOW())
		RETURNING reserved, updated_at
	`, rec.ProductID, rec.Available).Scan(&rec.Reserved, &rec.LastUpdated)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("product %s: %w", rec.ProductID, domain.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, productID string) (*domain.InventoryRecord, error) {
	rec := &domain.InventoryRecord{}

	err := s.db.QueryRowContext(ctx, `
		SELECT product_id, available, reserved, updated_at
		FROM inventory.items
		WHERE product_id = $1
	`, productID).Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
		}
		return nil, err
	}

	return rec, nil
}

func (s *PostgresStore) SetAvailable(ctx context.Context, productID string, available int) (*domain.InventoryRecord, error) {
	rec := &domain.InventoryRecord{}

	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory.items
		SET available = $2, updated_at = NOW()
		WHERE product_id = $1
		RETURNING product_id, available, reserved, updated_at
	`, productID, available).Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
		}
		return nil, err
	}

	return rec, nil
}

// Reserve relies on the row lock taken by the conditional UPDATE: the
// availability check and the decrement happen in the same statement.
func (s *PostgresStore) Reserve(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	rec := &domain.InventoryRecord{}

	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory.items
		SET available = available - $2, reserved = reserved + $2, updated_at = NOW()
		WHERE product_id = $1 AND available >= $2
		RETURNING product_id, available, reserved, updated_at
	`, productID, quantity).Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LastUpdated)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if _, err := s.Get(ctx, productID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("reserve %d of %s: %w", quantity, productID, domain.ErrInsufficientStock)
}

func (s *PostgresStore) Release(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	rec := &domain.InventoryRecord{}

	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory.items
		SET available = available + $2, reserved = reserved - $2, updated_at = NOW()
		WHERE product_id = $1 AND reserved >= $2
		RETURNING product_id, available, reserved, updated_at
	`, productID, quantity).Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LastUpdated)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if _, err := s.Get(ctx, productID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("release %d of %s exceeds reserved stock: %w", quantity, productID, domain.ErrInvalidArgument)
}

func (s *PostgresStore) Commit(ctx context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	rec := &domain.InventoryRecord{}

	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory.items
		SET reserved = reserved - $2, updated_at = NOW()
		WHERE product_id = $1 AND reserved >= $2
		RETURNING product_id, available, reserved, updated_at
	`, productID, quantity).Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LastUpdated)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	if _, err := s.Get(ctx, productID); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("commit %d of %s exceeds reserved stock: %w", quantity, productID, domain.ErrInvalidArgument)
}

func (s *PostgresStore) Delete(ctx context.Context, productID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM inventory.items WHERE product_id = $1`, productID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.InventoryRecord, error) {
	return s.query(ctx, `
		SELECT product_id, available, reserved, updated_at
		FROM inventory.items
		ORDER BY product_id
	`)
}

func (s *PostgresStore) ListAvailable(ctx context.Context) ([]domain.InventoryRecord, error) {
	return s.query(ctx, `
		SELECT product_id, available, reserved, updated_at
		FROM inventory.items
		WHERE available > 0
		ORDER BY product_id
	`)
}

func (s *PostgresStore) ListBelow(ctx context.Context, threshold int) ([]domain.InventoryRecord, error) {
	return s.query(ctx, `
		SELECT product_id, available, reserved, updated_at
		FROM inventory.items
		WHERE available < $1
		ORDER BY available, product_id
	`, threshold)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]domain.InventoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []domain.InventoryRecord{}
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.LastUpdated); err != nil {
			return nil, err
		}
		items = append(items, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
