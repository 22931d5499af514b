package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/algotrendy/execution-engine/internal/model"
)

// Compile-time interface check.
var _ Gateway = (*PaperGateway)(nil)

// PaperConfig tunes the simulated venue.
type PaperConfig struct {
	Name              string
	InitialBalances   map[string]decimal.Decimal
	Depth             decimal.Decimal // simulated book depth for the fill model
	ImpactRate        decimal.Decimal // fractional slippage per depth consumed
	Latency           time.Duration   // simulated gateway round-trip
	RequestsPerSecond float64         // 0 = unthrottled
}

// PaperGateway implements Gateway for paper trading: it fills market
// orders immediately against a posted price table using the fill model,
// rests limit and stop orders as open, and tracks balances and naive
// venue-side positions in memory without external calls.
type PaperGateway struct {
	name    string
	fill    *FillModel
	latency time.Duration
	limiter *rate.Limiter

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	orders    map[string]*model.Order // keyed by exchange order id
	balances  map[string]decimal.Decimal
	positions map[string]*model.Position

	failNext error // test hook: next PlaceOrder fails with this
}

// NewPaperGateway creates a paper venue.
func NewPaperGateway(cfg PaperConfig) (*PaperGateway, error) {
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	if cfg.Depth.LessThanOrEqual(decimal.Zero) {
		cfg.Depth = decimal.NewFromInt(1000)
	}
	fm, err := NewFillModel(cfg.Depth, cfg.ImpactRate)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	balances := make(map[string]decimal.Decimal, len(cfg.InitialBalances))
	for asset, bal := range cfg.InitialBalances {
		balances[asset] = bal
	}

	return &PaperGateway{
		name:      cfg.Name,
		fill:      fm,
		latency:   cfg.Latency,
		limiter:   limiter,
		prices:    make(map[string]decimal.Decimal),
		orders:    make(map[string]*model.Order),
		balances:  balances,
		positions: make(map[string]*model.Position),
	}, nil
}

func (g *PaperGateway) Name() string { return g.name }

// SetPrice posts the venue's last trade price for a symbol.
func (g *PaperGateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	g.prices[symbol] = price
	g.mu.Unlock()
}

// FailNextPlace makes the next PlaceOrder return err. Test hook.
func (g *PaperGateway) FailNextPlace(err error) {
	g.mu.Lock()
	g.failNext = err
	g.mu.Unlock()
}

// simulate waits for the rate limiter and the configured latency,
// honoring the ctx deadline like a real network round trip.
func (g *PaperGateway) simulate(ctx context.Context) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return &Error{Venue: g.name, Message: "rate limit wait aborted", Err: err}
		}
	}
	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-ctx.Done():
			return &Error{Venue: g.name, Message: "request timed out", Err: ctx.Err()}
		}
	}
	return nil
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return nil, &Error{Venue: g.name, Message: err.Error(), Err: err}
	}

	ref, ok := g.prices[req.Symbol]
	if !ok {
		return nil, &Error{Venue: g.name, Code: "INVALID_SYMBOL",
			Message: fmt.Sprintf("no market for %s", req.Symbol)}
	}

	now := time.Now().UTC()
	ack := &model.Order{
		ExchangeOrderID: "P-" + uuid.NewString(),
		ClientOrderID:   req.ClientOrderID,
		Symbol:          req.Symbol,
		Exchange:        g.name,
		Side:            req.Side,
		Type:            req.Type,
		Quantity:        req.Quantity,
		Price:           req.Price,
		StopPrice:       req.StopPrice,
		Status:          model.StatusOpen,
		CreatedAt:       now,
	}

	switch req.Type {
	case model.OrderTypeMarket:
		fillPrice, err := g.fill.FillPrice(ref, req.Quantity, req.Side == model.SideBuy)
		if err != nil {
			return nil, &Error{Venue: g.name, Code: "INSUFFICIENT_LIQUIDITY",
				Message: err.Error(), Err: err}
		}
		ack.ApplyFill(req.Quantity, fillPrice, now)
		g.applyVenueFill(req.Symbol, req.Side, req.Quantity, fillPrice)

	case model.OrderTypeLimit:
		// Marketable limits cross immediately at the limit price.
		if (req.Side == model.SideBuy && ref.LessThanOrEqual(req.Price)) ||
			(req.Side == model.SideSell && ref.GreaterThanOrEqual(req.Price)) {
			ack.ApplyFill(req.Quantity, req.Price, now)
			g.applyVenueFill(req.Symbol, req.Side, req.Quantity, req.Price)
		}

	case model.OrderTypeStop:
		// Stops rest until triggered by Fill.
	}

	dup := *ack
	g.orders[ack.ExchangeOrderID] = &dup
	return ack, nil
}

func (g *PaperGateway) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) (*model.Order, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[exchangeOrderID]
	if !ok {
		return nil, &Error{Venue: g.name, Code: "UNKNOWN_ORDER",
			Message: fmt.Sprintf("order %s not found for %s", exchangeOrderID, symbol)}
	}
	o.Close(model.StatusCancelled, time.Now().UTC())
	dup := *o
	return &dup, nil
}

func (g *PaperGateway) GetOrderStatus(ctx context.Context, exchangeOrderID, symbol string) (*model.Order, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	o, ok := g.orders[exchangeOrderID]
	if !ok {
		return nil, &Error{Venue: g.name, Code: "UNKNOWN_ORDER",
			Message: fmt.Sprintf("order %s not found for %s", exchangeOrderID, symbol)}
	}
	dup := *o
	return &dup, nil
}

func (g *PaperGateway) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	if err := g.simulate(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.balances[asset], nil
}

func (g *PaperGateway) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := g.simulate(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	price, ok := g.prices[symbol]
	if !ok {
		return decimal.Decimal{}, &Error{Venue: g.name, Code: "INVALID_SYMBOL",
			Message: fmt.Sprintf("no market for %s", symbol)}
	}
	return price, nil
}

func (g *PaperGateway) GetPositions(ctx context.Context) ([]model.Position, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]model.Position, 0, len(g.positions))
	for _, p := range g.positions {
		out = append(out, *p)
	}
	return out, nil
}

// Fill executes qty at price against a resting order. Used by tests and
// simulations to drive partial and delayed fills that the reconciler then
// observes via GetOrderStatus.
func (g *PaperGateway) Fill(exchangeOrderID string, qty, price decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[exchangeOrderID]
	if !ok {
		return &Error{Venue: g.name, Code: "UNKNOWN_ORDER",
			Message: fmt.Sprintf("order %s not found", exchangeOrderID)}
	}
	if o.IsTerminal() {
		return &Error{Venue: g.name, Code: "ORDER_CLOSED",
			Message: fmt.Sprintf("order %s already %s", exchangeOrderID, o.Status)}
	}

	cumulative := o.FilledQuantity.Add(qty)
	// Venue-side average across all fills so far.
	avg := price
	if o.FilledQuantity.IsPositive() {
		avg = o.AvgFillPrice.Mul(o.FilledQuantity).
			Add(price.Mul(qty)).
			Div(cumulative)
	}
	o.ApplyFill(cumulative, avg, time.Now().UTC())
	g.applyVenueFill(o.Symbol, o.Side, qty, price)
	return nil
}

// applyVenueFill keeps the venue's naive position view; callers hold mu.
func (g *PaperGateway) applyVenueFill(symbol string, side model.Side, qty, price decimal.Decimal) {
	key := model.PositionKey(g.name, symbol)
	p, ok := g.positions[key]
	if !ok {
		g.positions[key] = &model.Position{
			Symbol:       symbol,
			Exchange:     g.name,
			Side:         side,
			Quantity:     qty,
			EntryPrice:   price,
			CurrentPrice: price,
			OpenedAt:     time.Now().UTC(),
		}
		return
	}
	if p.Side == side {
		newQty := p.Quantity.Add(qty)
		p.EntryPrice = p.EntryPrice.Mul(p.Quantity).Add(price.Mul(qty)).Div(newQty)
		p.Quantity = newQty
		return
	}
	p.Quantity = p.Quantity.Sub(qty)
	if !p.Quantity.IsPositive() {
		delete(g.positions, key)
	}
}
