package position

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/events"
	"github.com/algotrendy/execution-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestApplyFill_VWAPAndPnL(t *testing.T) {
	tr := NewTracker(nil)

	tr.ApplyFill("binance", "BTCUSDT", model.SideBuy, d(1), d(100))
	tr.ApplyFill("binance", "BTCUSDT", model.SideBuy, d(1), d(200))

	p, ok := tr.Get("binance", "BTCUSDT")
	if !ok {
		t.Fatal("expected open position")
	}
	if !p.Quantity.Equal(d(2)) {
		t.Errorf("quantity = %s, want 2", p.Quantity)
	}
	if !p.EntryPrice.Equal(d(150)) {
		t.Errorf("entry price = %s, want 150", p.EntryPrice)
	}

	tr.UpdatePrice("binance", "BTCUSDT", d(180))
	p, _ = tr.Get("binance", "BTCUSDT")
	// (180-150) * 2 = 60
	if !p.UnrealizedPnL.Equal(d(60)) {
		t.Errorf("unrealized pnl = %s, want 60", p.UnrealizedPnL)
	}
}

func TestApplyFill_ShortSidePnL(t *testing.T) {
	tr := NewTracker(nil)

	tr.ApplyFill("binance", "ETHUSDT", model.SideSell, d(2), d(100))
	tr.UpdatePrice("binance", "ETHUSDT", d(90))

	p, _ := tr.Get("binance", "ETHUSDT")
	// Short gains when price falls: (90-100) * 2 * -1 = 20.
	if !p.UnrealizedPnL.Equal(d(20)) {
		t.Errorf("unrealized pnl = %s, want 20", p.UnrealizedPnL)
	}
}

func TestApplyFill_ReduceRealizesPnL(t *testing.T) {
	tr := NewTracker(nil)

	tr.ApplyFill("binance", "BTCUSDT", model.SideBuy, d(2), d(100))
	p, open := tr.ApplyFill("binance", "BTCUSDT", model.SideSell, d(1), d(120))

	if !open {
		t.Fatal("position should still be open after partial reduce")
	}
	if !p.Quantity.Equal(d(1)) {
		t.Errorf("quantity = %s, want 1", p.Quantity)
	}
	// Realized on the reduced unit: (120-100) * 1 = 20.
	if !p.RealizedPnL.Equal(d(20)) {
		t.Errorf("realized pnl = %s, want 20", p.RealizedPnL)
	}
	if !p.EntryPrice.Equal(d(100)) {
		t.Errorf("entry price must not change on reduce, got %s", p.EntryPrice)
	}
}

func TestApplyFill_FullCloseRemovesPosition(t *testing.T) {
	bus := events.NewBus()
	closedCh, unsub := bus.Subscribe(events.PositionClosed, 1)
	defer unsub()

	tr := NewTracker(bus)
	tr.ApplyFill("binance", "BTCUSDT", model.SideBuy, d(2), d(100))
	p, open := tr.ApplyFill("binance", "BTCUSDT", model.SideSell, d(2), d(110))

	if open {
		t.Error("position should be closed")
	}
	if !p.RealizedPnL.Equal(d(20)) {
		t.Errorf("realized pnl = %s, want 20", p.RealizedPnL)
	}
	if _, ok := tr.Get("binance", "BTCUSDT"); ok {
		t.Error("closed position should be removed from the active set")
	}
	if tr.Count() != 0 {
		t.Errorf("count = %d, want 0", tr.Count())
	}

	select {
	case ev := <-closedCh:
		closed := ev.(model.Position)
		if !closed.Quantity.IsZero() {
			t.Errorf("closed event quantity = %s, want 0", closed.Quantity)
		}
	default:
		t.Error("expected a PositionClosed event")
	}
}

func TestApplyFill_FlipReversesSide(t *testing.T) {
	tr := NewTracker(nil)

	tr.ApplyFill("binance", "BTCUSDT", model.SideBuy, d(1), d(100))
	p, open := tr.ApplyFill("binance", "BTCUSDT", model.SideSell, d(3), d(110))

	if !open {
		t.Fatal("flip should leave an open position")
	}
	if p.Side != model.SideSell {
		t.Errorf("side = %s, want SELL", p.Side)
	}
	if !p.Quantity.Equal(d(2)) {
		t.Errorf("quantity = %s, want 2", p.Quantity)
	}
	if !p.EntryPrice.Equal(d(110)) {
		t.Errorf("flipped entry price = %s, want fill price 110", p.EntryPrice)
	}
	// Realized on the closed unit: (110-100) * 1 = 10.
	if !p.RealizedPnL.Equal(d(10)) {
		t.Errorf("realized pnl = %s, want 10", p.RealizedPnL)
	}
}

func TestUpdatePrice_NoPositionIsNoOp(t *testing.T) {
	tr := NewTracker(nil)
	tr.UpdatePrice("binance", "BTCUSDT", d(100)) // must not panic or create
	if tr.Count() != 0 {
		t.Errorf("count = %d, want 0", tr.Count())
	}
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	tr := NewTracker(nil)

	var wg sync.WaitGroup
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tr.ApplyFill("binance", sym, model.SideBuy, d(1), d(100))
				tr.UpdatePrice("binance", sym, d(101))
			}
		}(sym)
	}
	wg.Wait()

	for _, sym := range symbols {
		p, ok := tr.Get("binance", sym)
		if !ok {
			t.Fatalf("missing position for %s", sym)
		}
		if !p.Quantity.Equal(d(100)) {
			t.Errorf("%s quantity = %s, want 100", sym, p.Quantity)
		}
	}
}

func TestMarginHealth_LiquidationFlag(t *testing.T) {
	tr := NewTracker(nil)

	tr.ApplyFill("binance", "BTCUSDT", model.SideBuy, d(10), d(100))

	// Make it a leveraged position and mark down hard.
	p, _ := tr.Get("binance", "BTCUSDT")
	p.Collateral = d(100)
	p.MarkToMarket(d(90.5), p.UpdatedAt)
	// uPnL = (90.5-100)*10 = -95; health = (100-95)/100 = 0.05 — not yet at risk.
	if p.AtLiquidationRisk() {
		t.Error("health exactly at threshold should not flag")
	}
	p.MarkToMarket(d(90.4), p.UpdatedAt)
	if !p.AtLiquidationRisk() {
		t.Errorf("health %s should flag liquidation risk", p.MarginHealthRatio)
	}
}
