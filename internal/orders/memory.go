package orders

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]domain.Order)}
}

func (s *MemoryStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order.ID = uuid.New().String()
	s.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	out := cloneOrder(order)
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Order{}
	for _, order := range s.orders {
		if f.UserID != "" && order.UserID != f.UserID {
			continue
		}
		if f.Status != "" && order.Status != f.Status {
			continue
		}
		out = append(out, cloneOrder(order))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, from, to domain.OrderStatus, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if order.Status != from {
		return nil, fmt.Errorf("order %s is %s, expected %s: %w", id, order.Status, from, domain.ErrInvalidTransition)
	}

	order.Status = to
	order.UpdatedAt = at
	s.orders[id] = order

	out := cloneOrder(order)
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	if order.Status != status {
		return fmt.Errorf("order %s is %s, expected %s: %w", id, order.Status, status, domain.ErrInvalidTransition)
	}
	delete(s.orders, id)
	return nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = slices.Clone(o.Items)
	return o
}
