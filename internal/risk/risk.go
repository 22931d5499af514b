// Package risk implements pre-trade risk validation. The validator is a
// pure function of order + account state + configured limits: no side
// effects, safe to call repeatedly and concurrently.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/algotrendy/execution-engine/internal/model"
)

// Settings holds the immutable risk configuration, loaded once at process
// start. Percentages are whole numbers (10 = 10% of account balance).
type Settings struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	MaxPositionSizePct     decimal.Decimal `yaml:"max_position_size_pct" json:"max_position_size_pct"`
	MaxTotalExposurePct    decimal.Decimal `yaml:"max_total_exposure_pct" json:"max_total_exposure_pct"`
	MaxConcurrentPositions int             `yaml:"max_concurrent_positions" json:"max_concurrent_positions"`
	MinOrderSize           decimal.Decimal `yaml:"min_order_size" json:"min_order_size"`
	MaxOrderSize           decimal.Decimal `yaml:"max_order_size" json:"max_order_size"`

	DefaultStopLossPct   decimal.Decimal `yaml:"default_stop_loss_pct" json:"default_stop_loss_pct"`
	DefaultTakeProfitPct decimal.Decimal `yaml:"default_take_profit_pct" json:"default_take_profit_pct"`
}

// DefaultSettings returns conservative defaults.
func DefaultSettings() Settings {
	return Settings{
		Enabled:                true,
		MaxPositionSizePct:     decimal.NewFromInt(10),
		MaxTotalExposurePct:    decimal.NewFromInt(50),
		MaxConcurrentPositions: 10,
		MinOrderSize:           decimal.NewFromInt(10),
		MaxOrderSize:           decimal.NewFromInt(100000),
		DefaultStopLossPct:     decimal.NewFromInt(2),
		DefaultTakeProfitPct:   decimal.NewFromInt(5),
	}
}

// Validator evaluates orders against the configured limits.
type Validator struct {
	settings Settings
}

// NewValidator creates a validator over immutable settings.
func NewValidator(settings Settings) *Validator {
	return &Validator{settings: settings}
}

// Settings returns a copy of the configured limits.
func (v *Validator) Settings() Settings {
	return v.settings
}

var hundred = decimal.NewFromInt(100)

// Validate checks an order request against account state and limits.
// Returns nil if accepted; otherwise an error wrapping
// model.ErrRiskRejected whose message is the human-readable reason.
// Checks short-circuit on first failure. With risk disabled, all size and
// exposure checks are bypassed unconditionally.
func (v *Validator) Validate(
	req model.OrderRequest,
	accountBalance decimal.Decimal,
	currentPrice decimal.Decimal,
	openPositions []model.Position,
) error {
	if !v.settings.Enabled {
		return nil
	}

	price := currentPrice
	if req.Type == model.OrderTypeLimit && req.Price.IsPositive() {
		price = req.Price
	}
	notional := req.Quantity.Mul(price)

	if notional.LessThan(v.settings.MinOrderSize) {
		return reject("order notional %s below minimum order size %s",
			notional, v.settings.MinOrderSize)
	}
	if v.settings.MaxOrderSize.IsPositive() && notional.GreaterThan(v.settings.MaxOrderSize) {
		return reject("order notional %s exceeds maximum order size %s",
			notional, v.settings.MaxOrderSize)
	}

	maxPosition := accountBalance.Mul(v.settings.MaxPositionSizePct).Div(hundred)
	if notional.GreaterThan(maxPosition) {
		return reject("order notional %s exceeds max position size %s (%s%% of balance %s)",
			notional, maxPosition, v.settings.MaxPositionSizePct, accountBalance)
	}

	// New positions count against the concurrent-position limit; adding to
	// an already-open position on the same (exchange, symbol) does not.
	if v.settings.MaxConcurrentPositions > 0 && !hasOpenPosition(req, openPositions) &&
		len(openPositions) >= v.settings.MaxConcurrentPositions {
		return reject("max concurrent positions reached: %d open, limit %d",
			len(openPositions), v.settings.MaxConcurrentPositions)
	}

	exposure := notional
	for i := range openPositions {
		exposure = exposure.Add(openPositions[i].Notional())
	}
	maxExposure := accountBalance.Mul(v.settings.MaxTotalExposurePct).Div(hundred)
	if exposure.GreaterThan(maxExposure) {
		return reject("total exposure %s exceeds max total exposure %s (%s%% of balance %s)",
			exposure, maxExposure, v.settings.MaxTotalExposurePct, accountBalance)
	}

	return nil
}

func hasOpenPosition(req model.OrderRequest, open []model.Position) bool {
	for i := range open {
		if open[i].Symbol == req.Symbol && open[i].Exchange == req.Exchange {
			return true
		}
	}
	return false
}

func reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", model.ErrRiskRejected, fmt.Sprintf(format, args...))
}
