package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/algotrendy/execution-engine/internal/model"
)

// MemoryRepository implements OrderRepository with in-memory maps. Used
// for testing and development. Not suitable for production (no
// persistence).
type MemoryRepository struct {
	mu        sync.RWMutex
	byID      map[string]*model.Order
	byClient  map[string]string // client order id -> internal id
	insertion []string          // preserves creation order for listing
}

// NewMemoryRepository creates a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*model.Order),
		byClient: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}

	// Store a copy to avoid external mutation.
	dup := *o
	r.byID[o.ID] = &dup
	if o.ClientOrderID != "" {
		r.byClient[o.ClientOrderID] = o.ID
	}
	r.insertion = append(r.insertion, o.ID)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, o *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[o.ID]; !exists {
		return fmt.Errorf("update order %s: %w", o.ID, model.ErrNotFound)
	}
	dup := *o
	r.byID[o.ID] = &dup
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, model.ErrNotFound)
	}
	dup := *o
	return &dup, nil
}

func (r *MemoryRepository) GetByClientOrderID(_ context.Context, key string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byClient[key]
	if !ok {
		return nil, fmt.Errorf("client order id %s: %w", key, model.ErrNotFound)
	}
	dup := *r.byID[id]
	return &dup, nil
}

func (r *MemoryRepository) GetActiveOrders(_ context.Context) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []model.Order
	for _, id := range r.insertion {
		if o := r.byID[id]; !o.IsTerminal() {
			active = append(active, *o)
		}
	}
	return active, nil
}
