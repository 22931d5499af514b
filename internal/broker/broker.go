// Package broker abstracts trading venues behind a uniform gateway
// interface and provides a paper implementation for development and
// testing.
package broker

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/model"
)

// Gateway is the uniform per-venue contract consumed by the engine. All
// calls are network-bound and must honor ctx deadlines.
type Gateway interface {
	// Name returns the venue identifier (e.g. "binance", "paper").
	Name() string

	// PlaceOrder submits the request and returns the venue's view of the
	// resulting order: exchange order id, initial status, and any
	// immediate fill for market orders.
	PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error)

	// CancelOrder requests cancellation of an open order.
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (*model.Order, error)

	// GetOrderStatus fetches the venue's current view of an order.
	GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (*model.Order, error)

	// GetBalance returns the free balance for an asset.
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// GetCurrentPrice returns the venue's last trade price for a symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// GetPositions returns venue-reported positions, used for cross-check
	// only — the position tracker remains authoritative.
	GetPositions(ctx context.Context) ([]model.Position, error)
}

// Error is the taxonomy for venue failures: the exchange rejected the
// request or the network failed. Retryable via resubmission with the
// same client order id.
type Error struct {
	Venue   string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker %s: [%s] %s", e.Venue, e.Code, e.Message)
	}
	return fmt.Sprintf("broker %s: %s", e.Venue, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Registry holds gateways keyed by venue identifier.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry returns an empty gateway registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register stores a gateway implementation for a venue.
func (r *Registry) Register(gw Gateway) {
	r.gateways[gw.Name()] = gw
}

// Gateway resolves the gateway for a venue.
func (r *Registry) Gateway(venue string) (Gateway, error) {
	if gw, ok := r.gateways[venue]; ok {
		return gw, nil
	}
	return nil, fmt.Errorf("no gateway registered for venue %q", venue)
}
