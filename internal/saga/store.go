package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ec-event-sourcing/internal/apperr"
)

var (
	ErrSagaNotFound = fmt.Errorf("%w: saga not found", apperr.ErrNotFound)
	// ErrSagaConflict is returned by Save when the saga changed since it was loaded.
	ErrSagaConflict = fmt.Errorf("%w: saga was modified concurrently", apperr.ErrConcurrencyConflict)
)

// Store persists saga state. Save is version checked: a saga with Version 0
// must not exist yet, otherwise the stored version must equal s.Version.
// On success Save increments s.Version and stamps the timestamps.
type Store interface {
	Get(ctx context.Context, id string) (Saga, error)
	FindByOrderID(ctx context.Context, orderID string) (Saga, error)
	Save(ctx context.Context, s *Saga) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	sagas   map[string]Saga
	byOrder map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sagas:   make(map[string]Saga),
		byOrder: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Get(ctx context.Context, id string) (Saga, error) {
	if err := ctx.Err(); err != nil {
		return Saga{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sagas[id]
	if !ok {
		return Saga{}, fmt.Errorf("%w: %s", ErrSagaNotFound, id)
	}
	return s.clone(), nil
}

func (m *MemoryStore) FindByOrderID(ctx context.Context, orderID string) (Saga, error) {
	m.mu.RLock()
	id, ok := m.byOrder[orderID]
	m.mu.RUnlock()
	if !ok {
		return Saga{}, fmt.Errorf("%w: order %s", ErrSagaNotFound, orderID)
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) Save(ctx context.Context, s *Saga) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ID == "" {
		return fmt.Errorf("%w: saga id is required", apperr.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.sagas[s.ID]
	switch {
	case !exists && s.Version != 0, exists && current.Version != s.Version:
		return fmt.Errorf("%w: %s", ErrSagaConflict, s.ID)
	}

	now := time.Now()
	if !exists {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Version++

	m.sagas[s.ID] = s.clone()
	if s.OrderID != "" {
		m.byOrder[s.OrderID] = s.ID
	}
	return nil
}
