package broker

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDepth is returned when the simulated book depth is not
	// positive.
	ErrInvalidDepth = errors.New("fillmodel: depth must be positive")

	// ErrFillBoundExceeded is returned when an order is so large relative
	// to the simulated depth that the fill price would leave the allowed
	// band around the reference price.
	ErrFillBoundExceeded = errors.New("fillmodel: order too large for simulated depth")

	// maxImpact caps simulated slippage at 10% of the reference price.
	maxImpact = decimal.NewFromFloat(0.10)
)

// FillModel computes simulated fill prices for the paper venue using a
// linear price-impact approximation: slippage grows with order size
// relative to the configured book depth. It is stateless — reference
// price and quantity are passed as arguments, not stored.
type FillModel struct {
	depth decimal.Decimal // quantity that moves the price by impactPerDepth
	rate  decimal.Decimal // fractional impact per full depth consumed
}

// NewFillModel creates a fill model. depth is the resting quantity
// assumed at the touch; rate the fractional price move per depth consumed
// (e.g. 0.001 = 10 bps).
func NewFillModel(depth, rate decimal.Decimal) (*FillModel, error) {
	if depth.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidDepth
	}
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	return &FillModel{depth: depth, rate: rate}, nil
}

// FillPrice returns the simulated average fill price for qty executed
// against ref. Buys walk the book upward, sells downward.
func (m *FillModel) FillPrice(ref, qty decimal.Decimal, buy bool) (decimal.Decimal, error) {
	impact := qty.Div(m.depth).Mul(m.rate)
	if impact.GreaterThan(maxImpact) {
		return decimal.Decimal{}, ErrFillBoundExceeded
	}
	if buy {
		return ref.Mul(decimal.NewFromInt(1).Add(impact)), nil
	}
	return ref.Mul(decimal.NewFromInt(1).Sub(impact)), nil
}
