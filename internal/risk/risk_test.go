package risk

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func testSettings() Settings {
	s := DefaultSettings()
	s.MinOrderSize = d(10)
	s.MaxOrderSize = d(10000)
	s.MaxPositionSizePct = d(10)  // 10% of balance
	s.MaxTotalExposurePct = d(50) // 50% of balance
	s.MaxConcurrentPositions = 2
	return s
}

func marketBuy(symbol string, qty float64) model.OrderRequest {
	return model.OrderRequest{
		Symbol:   symbol,
		Exchange: "binance",
		Side:     model.SideBuy,
		Type:     model.OrderTypeMarket,
		Quantity: d(qty),
	}
}

func openPosition(symbol string, qty, price float64) model.Position {
	return model.Position{
		Symbol:       symbol,
		Exchange:     "binance",
		Side:         model.SideBuy,
		Quantity:     d(qty),
		EntryPrice:   d(price),
		CurrentPrice: d(price),
	}
}

func requireRejected(t *testing.T, err error, fragment string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected rejection, got nil")
	}
	if !errors.Is(err, model.ErrRiskRejected) {
		t.Fatalf("expected ErrRiskRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), fragment) {
		t.Errorf("reason %q should contain %q", err.Error(), fragment)
	}
}

func TestValidate_Accept(t *testing.T) {
	v := NewValidator(testSettings())
	err := v.Validate(marketBuy("BTCUSDT", 1), d(100000), d(100), nil)
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestValidate_BelowMinimum(t *testing.T) {
	v := NewValidator(testSettings())
	err := v.Validate(marketBuy("BTCUSDT", 0.01), d(100000), d(100), nil)
	requireRejected(t, err, "below minimum")
}

func TestValidate_ExceedsMaximum(t *testing.T) {
	v := NewValidator(testSettings())
	// Notional 20000 > max order size 10000, balance high enough that the
	// position-size check would not trigger first.
	err := v.Validate(marketBuy("BTCUSDT", 200), d(10000000), d(100), nil)
	requireRejected(t, err, "exceeds maximum")
}

func TestValidate_ExceedsMaxPositionSize(t *testing.T) {
	v := NewValidator(testSettings())
	// Notional 5000 > 10% of balance 10000 = 1000.
	err := v.Validate(marketBuy("BTCUSDT", 50), d(10000), d(100), nil)
	requireRejected(t, err, "exceeds max position size")
}

func TestValidate_LimitPriceUsedForNotional(t *testing.T) {
	v := NewValidator(testSettings())
	req := model.OrderRequest{
		Symbol:   "BTCUSDT",
		Exchange: "binance",
		Side:     model.SideBuy,
		Type:     model.OrderTypeLimit,
		Quantity: d(1),
		Price:    d(5), // notional 5, below minimum 10
	}
	// Market price alone (100) would pass the minimum.
	err := v.Validate(req, d(100000), d(100), nil)
	requireRejected(t, err, "below minimum")
}

func TestValidate_MaxConcurrentPositions(t *testing.T) {
	v := NewValidator(testSettings())
	open := []model.Position{
		openPosition("ETHUSDT", 1, 100),
		openPosition("SOLUSDT", 1, 100),
	}

	// A third distinct symbol is rejected.
	err := v.Validate(marketBuy("BTCUSDT", 1), d(100000), d(100), open)
	requireRejected(t, err, "max concurrent positions")

	// Adding to an already-open symbol is allowed.
	if err := v.Validate(marketBuy("ETHUSDT", 1), d(100000), d(100), open); err != nil {
		t.Errorf("adding to open position should pass: %v", err)
	}
}

func TestValidate_TotalExposure(t *testing.T) {
	s := testSettings()
	s.MaxConcurrentPositions = 10
	v := NewValidator(s)

	// Open exposure 450 + order 100 = 550 > 50% of balance 1000 = 500.
	open := []model.Position{openPosition("ETHUSDT", 4.5, 100)}
	err := v.Validate(marketBuy("BTCUSDT", 1), d(1000), d(100), open)
	requireRejected(t, err, "exceeds max total exposure")
}

func TestValidate_DisabledBypassesAllChecks(t *testing.T) {
	s := testSettings()
	s.Enabled = false
	v := NewValidator(s)

	// 100 units at any price sails through every size check.
	if err := v.Validate(marketBuy("BTCUSDT", 100), d(10), d(1000000), nil); err != nil {
		t.Errorf("disabled risk should accept everything: %v", err)
	}
}
