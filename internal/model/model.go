// Package model defines the core domain types shared across the execution
// engine. All monetary values use shopspring/decimal — never float64 for
// money.
package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side denotes order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for buys and -1 for sells as a decimal multiplier.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes how an order executes.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Error taxonomy. Risk rejections are not retryable with the same
// parameters; broker errors are retryable via resubmission with the same
// client order id.
var (
	ErrRiskRejected    = errors.New("order rejected by risk validation")
	ErrNotFound        = errors.New("order not found")
	ErrAlreadyTerminal = errors.New("order already in terminal state")
)

// OrderRequest is the caller-supplied intent to trade.
type OrderRequest struct {
	Symbol        string            `json:"symbol"`
	Exchange      string            `json:"exchange"`
	Side          Side              `json:"side"`
	Type          OrderType         `json:"type"`
	Quantity      decimal.Decimal   `json:"quantity"`
	Price         decimal.Decimal   `json:"price,omitempty"`      // required for LIMIT
	StopPrice     decimal.Decimal   `json:"stop_price,omitempty"` // required for STOP
	ClientOrderID string            `json:"client_order_id,omitempty"`
	StrategyID    string            `json:"strategy_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Validate checks structural invariants of the request.
func (r OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("symbol is required")
	}
	if r.Exchange == "" {
		return errors.New("exchange is required")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("invalid side %q", r.Side)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if !r.Price.IsPositive() {
			return errors.New("limit orders require a positive price")
		}
	case OrderTypeStop:
		if !r.StopPrice.IsPositive() {
			return errors.New("stop orders require a positive stop price")
		}
	default:
		return fmt.Errorf("invalid order type %q", r.Type)
	}
	if !r.Quantity.IsPositive() {
		return errors.New("quantity must be positive")
	}
	return nil
}

// Order is the engine's record of an order lifecycle. Created by the
// submission pipeline, mutated by the pipeline and the reconciler, never
// deleted — terminal orders are immutable.
type Order struct {
	ID              string          `json:"id" db:"id"`
	ClientOrderID   string          `json:"client_order_id" db:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty" db:"exchange_order_id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Exchange        string          `json:"exchange" db:"exchange"`
	Side            Side            `json:"side" db:"side"`
	Type            OrderType       `json:"type" db:"type"`
	Status          OrderStatus     `json:"status" db:"status"`
	Quantity        decimal.Decimal `json:"quantity" db:"quantity"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price" db:"avg_fill_price"`
	Price           decimal.Decimal `json:"price,omitempty" db:"price"`
	StopPrice       decimal.Decimal `json:"stop_price,omitempty" db:"stop_price"`
	StrategyID      string          `json:"strategy_id,omitempty" db:"strategy_id"`
	RejectReason    string          `json:"reject_reason,omitempty" db:"reject_reason"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	SubmittedAt     *time.Time      `json:"submitted_at,omitempty" db:"submitted_at"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// RemainingQuantity is requested minus filled.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsTerminal reports whether the order can no longer change.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// ApplyFill records cumulative fill progress and transitions status.
// filled is the cumulative filled quantity, avgPrice the average fill
// price reported by the venue. Terminal orders are left untouched.
func (o *Order) ApplyFill(filled, avgPrice decimal.Decimal, at time.Time) {
	if o.IsTerminal() {
		return
	}
	o.FilledQuantity = filled
	if avgPrice.IsPositive() {
		o.AvgFillPrice = avgPrice
	}
	switch {
	case filled.GreaterThanOrEqual(o.Quantity):
		o.Status = StatusFilled
		o.ClosedAt = &at
	case filled.IsPositive():
		o.Status = StatusPartiallyFilled
	}
}

// Close transitions the order to a terminal status and stamps ClosedAt.
func (o *Order) Close(status OrderStatus, at time.Time) {
	if o.IsTerminal() {
		return
	}
	o.Status = status
	o.ClosedAt = &at
}

// MarginType distinguishes isolated from cross margin.
type MarginType string

const (
	MarginIsolated MarginType = "ISOLATED"
	MarginCross    MarginType = "CROSS"
)

// LiquidationRiskThreshold flags positions whose margin health ratio has
// decayed to the point of imminent liquidation.
var LiquidationRiskThreshold = decimal.NewFromFloat(0.05)

// Position is the aggregated exposure per (exchange, symbol).
type Position struct {
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Side         Side            `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price"` // volume-weighted average
	CurrentPrice decimal.Decimal `json:"current_price"`
	StopLoss     decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit   decimal.Decimal `json:"take_profit,omitempty"`

	// Margin / leverage fields; zero values mean spot.
	Leverage          decimal.Decimal `json:"leverage,omitempty"`
	MarginType        MarginType      `json:"margin_type,omitempty"`
	Collateral        decimal.Decimal `json:"collateral,omitempty"`
	BorrowedAmount    decimal.Decimal `json:"borrowed_amount,omitempty"`
	LiquidationPrice  decimal.Decimal `json:"liquidation_price,omitempty"`
	MarginHealthRatio decimal.Decimal `json:"margin_health_ratio,omitempty"`

	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Notional is quantity × current price, the exposure of the position.
func (p *Position) Notional() decimal.Decimal {
	return p.Quantity.Mul(p.CurrentPrice)
}

// MarkToMarket recomputes unrealized PnL and margin health at price.
// PnL = (current − entry) × quantity × sign(side).
func (p *Position) MarkToMarket(price decimal.Decimal, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = price.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Side.Sign())
	if p.Collateral.IsPositive() {
		// Health = (collateral + uPnL) / collateral, clamped at zero.
		health := p.Collateral.Add(p.UnrealizedPnL).Div(p.Collateral)
		if health.IsNegative() {
			health = decimal.Zero
		}
		p.MarginHealthRatio = health
	}
	p.UpdatedAt = at
}

// AtLiquidationRisk reports whether margin health has crossed the
// liquidation threshold. Spot positions (no collateral) never flag.
func (p *Position) AtLiquidationRisk() bool {
	return p.Collateral.IsPositive() &&
		p.MarginHealthRatio.LessThan(LiquidationRiskThreshold)
}

// PositionKey identifies a position in the tracker.
func PositionKey(exchange, symbol string) string {
	return exchange + ":" + symbol
}
