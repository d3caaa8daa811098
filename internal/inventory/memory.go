package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pavanyn2002/microservices-devops-practice/internal/domain"
)

type memoryEntry struct {
	mu      sync.Mutex
	rec     domain.InventoryRecord
	deleted bool
}

// MemoryStore keeps records in process. The map lock only guards membership;
// each record has its own mutex so products never contend with each other.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*memoryEntry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memoryEntry),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *domain.InventoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[rec.ProductID]; ok {
		return fmt.Errorf("product %s: %w", rec.ProductID, domain.ErrAlreadyExists)
	}

	rec.Reserved = 0
	rec.LastUpdated = s.now()
	s.items[rec.ProductID] = &memoryEntry{rec: *rec}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, productID string) (*domain.InventoryRecord, error) {
	var out domain.InventoryRecord
	err := s.withEntry(productID, func(e *memoryEntry) error {
		out = e.rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) SetAvailable(_ context.Context, productID string, available int) (*domain.InventoryRecord, error) {
	return s.mutate(productID, func(rec *domain.InventoryRecord) error {
		rec.Available = available
		return nil
	})
}

func (s *MemoryStore) Reserve(_ context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	return s.mutate(productID, func(rec *domain.InventoryRecord) error {
		if !rec.CanReserve(quantity) {
			return fmt.Errorf("reserve %d of %s: %w", quantity, productID, domain.ErrInsufficientStock)
		}
		rec.Available -= quantity
		rec.Reserved += quantity
		return nil
	})
}

func (s *MemoryStore) Release(_ context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	return s.mutate(productID, func(rec *domain.InventoryRecord) error {
		if quantity > rec.Reserved {
			return fmt.Errorf("release %d of %s exceeds reserved stock: %w", quantity, productID, domain.ErrInvalidArgument)
		}
		rec.Reserved -= quantity
		rec.Available += quantity
		return nil
	})
}

func (s *MemoryStore) Commit(_ context.Context, productID string, quantity int) (*domain.InventoryRecord, error) {
	return s.mutate(productID, func(rec *domain.InventoryRecord) error {
		if quantity > rec.Reserved {
			return fmt.Errorf("commit %d of %s exceeds reserved stock: %w", quantity, productID, domain.ErrInvalidArgument)
		}
		rec.Reserved -= quantity
		return nil
	})
}

func (s *MemoryStore) Delete(_ context.Context, productID string) error {
	s.mu.Lock()
	e, ok := s.items[productID]
	delete(s.items, productID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.InventoryRecord, error) {
	return s.filter(func(domain.InventoryRecord) bool { return true }), nil
}

func (s *MemoryStore) ListAvailable(_ context.Context) ([]domain.InventoryRecord, error) {
	return s.filter(func(rec domain.InventoryRecord) bool { return rec.Available > 0 }), nil
}

func (s *MemoryStore) ListBelow(_ context.Context, threshold int) ([]domain.InventoryRecord, error) {
	out := s.filter(func(rec domain.InventoryRecord) bool { return rec.Available < threshold })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Available < out[j].Available })
	return out, nil
}

func (s *MemoryStore) mutate(productID string, fn func(rec *domain.InventoryRecord) error) (*domain.InventoryRecord, error) {
	var out domain.InventoryRecord
	err := s.withEntry(productID, func(e *memoryEntry) error {
		next := e.rec
		if err := fn(&next); err != nil {
			return err
		}
		next.LastUpdated = s.now()
		e.rec = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *MemoryStore) withEntry(productID string, fn func(e *memoryEntry) error) error {
	s.mu.RLock()
	e, ok := s.items[productID]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return fmt.Errorf("product %s: %w", productID, domain.ErrNotFound)
	}
	return fn(e)
}

func (s *MemoryStore) filter(keep func(domain.InventoryRecord) bool) []domain.InventoryRecord {
	s.mu.RLock()
	entries := make([]*memoryEntry, 0, len(s.items))
	for _, e := range s.items {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := []domain.InventoryRecord{}
	for _, e := range entries {
		e.mu.Lock()
		rec, deleted := e.rec, e.deleted
		e.mu.Unlock()
		if !deleted && keep(rec) {
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}
