// Package engine implements the order submission pipeline: idempotent
// venue submission, pre-trade risk validation, state persistence, and
// position updates, plus the background reconciliation loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/broker"
	"github.com/algotrendy/execution-engine/internal/clientid"
	"github.com/algotrendy/execution-engine/internal/events"
	"github.com/algotrendy/execution-engine/internal/idempotency"
	"github.com/algotrendy/execution-engine/internal/marketdata"
	"github.com/algotrendy/execution-engine/internal/metrics"
	"github.com/algotrendy/execution-engine/internal/model"
	"github.com/algotrendy/execution-engine/internal/position"
	"github.com/algotrendy/execution-engine/internal/repo"
	"github.com/algotrendy/execution-engine/internal/risk"
)

// Config tunes pipeline timeouts and the reconciler.
type Config struct {
	AccountAsset         string
	CancelTimeout        time.Duration
	ReconcileInterval    time.Duration
	ReconcileTimeout     time.Duration // per-order venue status call
	ReconcileConcurrency int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AccountAsset:         "USDT",
		CancelTimeout:        5 * time.Second,
		ReconcileInterval:    15 * time.Second,
		ReconcileTimeout:     3 * time.Second,
		ReconcileConcurrency: 4,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AccountAsset == "" {
		c.AccountAsset = d.AccountAsset
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = d.CancelTimeout
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = d.ReconcileInterval
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = d.ReconcileTimeout
	}
	if c.ReconcileConcurrency <= 0 {
		c.ReconcileConcurrency = d.ReconcileConcurrency
	}
	return c
}

// Engine coordinates order execution across venues.
type Engine struct {
	cfg       Config
	orders    repo.OrderRepository
	brokers   *broker.Registry
	risk      *risk.Validator
	coord     *idempotency.Coordinator
	positions *position.Tracker
	prices    marketdata.Source
	bus       *events.Bus
}

// New wires an engine. prices and bus may be nil; the engine then falls
// back to venue price queries and skips event publication respectively.
func New(
	cfg Config,
	orders repo.OrderRepository,
	brokers *broker.Registry,
	validator *risk.Validator,
	coord *idempotency.Coordinator,
	positions *position.Tracker,
	prices marketdata.Source,
	bus *events.Bus,
) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		orders:    orders,
		brokers:   brokers,
		risk:      validator,
		coord:     coord,
		positions: positions,
		prices:    prices,
		bus:       bus,
	}
}

// SubmitOrder runs the full submission pipeline. The client order id is
// the idempotency key: resubmitting the same key returns the original
// order without touching the venue. Risk rejections happen before the
// idempotency barrier, so a rejected key stays usable once the request
// is adjusted. Broker failures are not cached either; the same key may
// be retried.
func (e *Engine) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := req.ClientOrderID
	if key == "" {
		key = clientid.Generate()
		req.ClientOrderID = key
	} else if err := clientid.Validate(key); err != nil {
		return nil, err
	}

	// A key that already completed is answered from the coordinator
	// before anything else runs: the original fill may have moved
	// exposure, and re-validating risk against the new state would turn
	// a safe retry into a rejection.
	if order, ok := e.coord.Completed(key); ok {
		metrics.IdempotentHits.Inc()
		slog.Info("duplicate submission served from cache",
			"client_order_id", key, "order_id", order.ID)
		return order, nil
	}

	gw, err := e.brokers.Gateway(req.Exchange)
	if err != nil {
		return nil, err
	}

	price, err := e.currentPrice(ctx, gw, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("price lookup for %s: %w", req.Symbol, err)
	}
	balance, err := gw.GetBalance(ctx, e.cfg.AccountAsset)
	if err != nil {
		return nil, fmt.Errorf("balance lookup on %s: %w", req.Exchange, err)
	}

	if err := e.risk.Validate(req, balance, price, e.positions.GetAll()); err != nil {
		order := e.newOrder(req)
		order.Status = model.StatusRejected
		order.RejectReason = err.Error()
		now := time.Now().UTC()
		order.ClosedAt = &now
		if perr := e.orders.Create(ctx, order); perr != nil {
			slog.Error("persisting risk rejection failed",
				"client_order_id", key, "err", perr)
		}
		e.publishOrder(order)
		metrics.OrdersRejected.WithLabelValues(req.Exchange, "risk").Inc()
		slog.Warn("order rejected by risk",
			"client_order_id", key, "symbol", req.Symbol, "reason", err.Error())
		return order, err
	}

	invoked := false
	order, err := e.coord.Execute(ctx, key, func(ctx context.Context) (*model.Order, error) {
		invoked = true
		return e.placeOrder(ctx, gw, req)
	})
	if err != nil {
		return nil, err
	}
	if !invoked {
		metrics.IdempotentHits.Inc()
		slog.Info("duplicate submission served from cache",
			"client_order_id", key, "order_id", order.ID)
	}
	return order, nil
}

// placeOrder runs inside the idempotency barrier: persist the pending
// record, submit to the venue, merge the ack, and apply any immediate
// fill to positions before the caller observes the order.
func (e *Engine) placeOrder(ctx context.Context, gw broker.Gateway, req model.OrderRequest) (*model.Order, error) {
	order := e.newOrder(req)
	if err := e.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("persisting order: %w", err)
	}

	start := time.Now()
	ack, err := gw.PlaceOrder(ctx, req)
	metrics.BrokerLatency.WithLabelValues(req.Exchange, "place").
		Observe(time.Since(start).Seconds())
	if err != nil {
		now := time.Now().UTC()
		order.Status = model.StatusRejected
		order.RejectReason = err.Error()
		order.ClosedAt = &now
		if perr := e.orders.Update(ctx, order); perr != nil {
			slog.Error("persisting broker rejection failed",
				"order_id", order.ID, "err", perr)
		}
		e.publishOrder(order)
		metrics.OrdersRejected.WithLabelValues(req.Exchange, "broker").Inc()
		slog.Error("venue submission failed",
			"order_id", order.ID, "exchange", req.Exchange, "err", err)
		return nil, err
	}

	now := time.Now().UTC()
	order.ExchangeOrderID = ack.ExchangeOrderID
	order.SubmittedAt = &now
	order.Status = model.StatusOpen
	if ack.FilledQuantity.IsPositive() {
		order.ApplyFill(ack.FilledQuantity, ack.AvgFillPrice, now)
		e.positions.ApplyFill(order.Exchange, order.Symbol, order.Side,
			ack.FilledQuantity, ack.AvgFillPrice)
		metrics.OpenPositions.Set(float64(e.positions.Count()))
	} else if ack.Status != "" && !ack.Status.IsTerminal() {
		order.Status = ack.Status
	}

	if err := e.orders.Update(ctx, order); err != nil {
		slog.Error("persisting venue ack failed", "order_id", order.ID, "err", err)
	}
	e.publishOrder(order)
	metrics.OrdersSubmitted.WithLabelValues(order.Exchange, string(order.Side)).Inc()
	if order.Status == model.StatusFilled {
		metrics.OrdersFilled.WithLabelValues(order.Exchange).Inc()
	}
	slog.Info("order submitted",
		"order_id", order.ID,
		"client_order_id", order.ClientOrderID,
		"exchange", order.Exchange,
		"symbol", order.Symbol,
		"side", order.Side,
		"status", order.Status)
	return order, nil
}

// CancelOrder cancels an order at its venue. Cancelling an order that is
// already terminal is a no-op returning the current record. Orders that
// never reached the venue are closed locally.
func (e *Engine) CancelOrder(ctx context.Context, id string) (*model.Order, error) {
	order, err := e.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.IsTerminal() {
		return order, nil
	}

	now := time.Now().UTC()
	if order.ExchangeOrderID != "" {
		gw, err := e.brokers.Gateway(order.Exchange)
		if err != nil {
			return nil, err
		}
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CancelTimeout)
		defer cancel()

		start := time.Now()
		_, err = gw.CancelOrder(cctx, order.ExchangeOrderID, order.Symbol)
		metrics.BrokerLatency.WithLabelValues(order.Exchange, "cancel").
			Observe(time.Since(start).Seconds())
		if err != nil {
			slog.Error("venue cancel failed",
				"order_id", order.ID, "exchange", order.Exchange, "err", err)
			return nil, err
		}
	}

	order.Close(model.StatusCancelled, now)
	if err := e.orders.Update(ctx, order); err != nil {
		return nil, fmt.Errorf("persisting cancel: %w", err)
	}
	e.publishOrder(order)
	slog.Info("order cancelled", "order_id", order.ID, "symbol", order.Symbol)
	return order, nil
}

// GetOrder retrieves an order by internal id.
func (e *Engine) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return e.orders.GetByID(ctx, id)
}

// GetOrderByClientID retrieves an order by its idempotency key.
func (e *Engine) GetOrderByClientID(ctx context.Context, key string) (*model.Order, error) {
	return e.orders.GetByClientOrderID(ctx, key)
}

// ListActiveOrders returns all non-terminal orders.
func (e *Engine) ListActiveOrders(ctx context.Context) ([]model.Order, error) {
	return e.orders.GetActiveOrders(ctx)
}

// Positions returns a snapshot of all open positions.
func (e *Engine) Positions() []model.Position {
	return e.positions.GetAll()
}

// Balance returns the account balance for the configured asset on the
// given venue.
func (e *Engine) Balance(ctx context.Context, exchange string) (decimal.Decimal, error) {
	gw, err := e.brokers.Gateway(exchange)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return gw.GetBalance(ctx, e.cfg.AccountAsset)
}

// PublishPrice feeds a price into the position tracker's mark-to-market
// and, when the source supports it, the price cache.
func (e *Engine) PublishPrice(ctx context.Context, exchange, symbol string, price decimal.Decimal) error {
	e.positions.UpdatePrice(exchange, symbol, price)
	switch src := e.prices.(type) {
	case *marketdata.Cache:
		src.SetPrice(symbol, price)
	case *marketdata.CachedSource:
		src.Publish(ctx, symbol, price)
	}
	return nil
}

// currentPrice consults the configured price source first and falls back
// to the venue.
func (e *Engine) currentPrice(ctx context.Context, gw broker.Gateway, symbol string) (decimal.Decimal, error) {
	if e.prices != nil {
		price, err := e.prices.GetLatest(ctx, symbol)
		if err == nil {
			return price, nil
		}
		if !errors.Is(err, marketdata.ErrNoPrice) {
			slog.Warn("price source lookup failed, falling back to venue",
				"symbol", symbol, "err", err)
		}
	}
	return gw.GetCurrentPrice(ctx, symbol)
}

func (e *Engine) newOrder(req model.OrderRequest) *model.Order {
	return &model.Order{
		ID:             uuid.NewString(),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Exchange:       req.Exchange,
		Side:           req.Side,
		Type:           req.Type,
		Status:         model.StatusPending,
		Quantity:       req.Quantity,
		FilledQuantity: decimal.Zero,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		StrategyID:     req.StrategyID,
		CreatedAt:      time.Now().UTC(),
	}
}

func (e *Engine) publishOrder(order *model.Order) {
	if e.bus == nil {
		return
	}
	dup := *order
	e.bus.Publish(events.OrderStatusChanged, dup)
}
