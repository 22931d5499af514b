// Package repo defines durable persistence for order records.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development). The repository is used for persistence only —
// submission coordination lives in the idempotency package.
package repo

import (
	"context"

	"github.com/algotrendy/execution-engine/internal/model"
)

// OrderRepository is the persistence interface for orders. Orders are
// never deleted; they only transition to terminal states.
type OrderRepository interface {
	// Create persists a new order record.
	Create(ctx context.Context, order *model.Order) error

	// Update overwrites the stored record for the order's id.
	Update(ctx context.Context, order *model.Order) error

	// GetByID retrieves an order by internal id.
	GetByID(ctx context.Context, id string) (*model.Order, error)

	// GetByClientOrderID retrieves an order by its idempotency key.
	GetByClientOrderID(ctx context.Context, key string) (*model.Order, error)

	// GetActiveOrders returns all orders in non-terminal states.
	GetActiveOrders(ctx context.Context) ([]model.Order, error)
}
