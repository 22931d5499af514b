package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/algotrendy/execution-engine/internal/metrics"
	"github.com/algotrendy/execution-engine/internal/model"
)

// SyncActiveOrders queries the venue state of every non-terminal order
// and folds venue-side progress back into the local record: newly filled
// quantity flows into the position tracker, terminal venue states close
// the order. Per-order failures are logged and skipped; a slow venue must
// not stall the sweep. Returns the number of orders updated.
func (e *Engine) SyncActiveOrders(ctx context.Context) (int, error) {
	active, err := e.orders.GetActiveOrders(ctx)
	if err != nil {
		return 0, err
	}

	var (
		updated atomic.Int64
		wg      sync.WaitGroup
		sem     = make(chan struct{}, e.cfg.ReconcileConcurrency)
	)
	for i := range active {
		order := active[i]
		if order.IsTerminal() || order.ExchangeOrderID == "" {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if e.syncOrder(ctx, &order) {
				updated.Add(1)
			}
		}()
	}
	wg.Wait()

	n := int(updated.Load())
	if n > 0 {
		metrics.OpenPositions.Set(float64(e.positions.Count()))
	}
	return n, nil
}

// syncOrder reconciles a single order against its venue. Reports whether
// the local record changed.
func (e *Engine) syncOrder(ctx context.Context, order *model.Order) bool {
	gw, err := e.brokers.Gateway(order.Exchange)
	if err != nil {
		slog.Error("reconcile skipped, unknown venue",
			"order_id", order.ID, "exchange", order.Exchange, "err", err)
		return false
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.ReconcileTimeout)
	defer cancel()

	start := time.Now()
	remote, err := gw.GetOrderStatus(sctx, order.ExchangeOrderID, order.Symbol)
	metrics.BrokerLatency.WithLabelValues(order.Exchange, "status").
		Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("reconcile status query failed",
			"order_id", order.ID, "exchange", order.Exchange, "err", err)
		return false
	}

	newFill := remote.FilledQuantity.Sub(order.FilledQuantity)
	changed := newFill.IsPositive() || remote.Status != order.Status

	if !changed {
		return false
	}

	now := time.Now().UTC()
	if newFill.IsPositive() {
		e.positions.ApplyFill(order.Exchange, order.Symbol, order.Side,
			newFill, remote.AvgFillPrice)
		order.ApplyFill(remote.FilledQuantity, remote.AvgFillPrice, now)
	}
	// Venue-side cancellations and expiries close the local record.
	if remote.Status.IsTerminal() && !order.IsTerminal() {
		order.Close(remote.Status, now)
	}

	if err := e.orders.Update(ctx, order); err != nil {
		slog.Error("reconcile persist failed", "order_id", order.ID, "err", err)
		return false
	}
	e.publishOrder(order)
	metrics.ReconcileUpdates.Inc()
	if order.Status == model.StatusFilled {
		metrics.OrdersFilled.WithLabelValues(order.Exchange).Inc()
	}
	slog.Info("order reconciled",
		"order_id", order.ID,
		"status", order.Status,
		"filled", order.FilledQuantity)
	return true
}

// Run executes reconciliation sweeps on the configured interval until
// ctx is done.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ReconcileInterval)
	defer ticker.Stop()
	slog.Info("reconciler started", "interval", e.cfg.ReconcileInterval)
	for {
		select {
		case <-ticker.C:
			metrics.ReconcileRuns.Inc()
			n, err := e.SyncActiveOrders(ctx)
			if err != nil {
				slog.Error("reconcile sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("reconcile sweep complete", "updated", n)
			}
		case <-ctx.Done():
			slog.Info("reconciler stopped")
			return
		}
	}
}
