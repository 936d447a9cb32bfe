package reconcile

import (
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
)

// MatchConfig tunes automated matching and manual candidate search.
type MatchConfig struct {
	// DateWindowDays is the +/- window around the statement date for automated matching.
	DateWindowDays int
	// AmountTolerance is the absolute amount difference still considered a match.
	AmountTolerance decimal.Decimal
	// ConfidenceFloor is the minimum score for a suggestion, 0..100.
	ConfidenceFloor int
	// ManualDateWindowDays is the wider window used by candidate search.
	ManualDateWindowDays int
	// ManualAmountTolerancePct is the relative tolerance of candidate search, in percent.
	ManualAmountTolerancePct decimal.Decimal
}

// DefaultMatchConfig returns the production defaults.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		DateWindowDays:           5,
		AmountTolerance:          decimal.RequireFromString("0.01"),
		ConfidenceFloor:          60,
		ManualDateWindowDays:     30,
		ManualAmountTolerancePct: decimal.NewFromInt(5),
	}
}

func (c MatchConfig) Validate() error {
	if c.DateWindowDays < 0 || c.ManualDateWindowDays < 0 {
		return domain.ValidationErrorf("date windows must be non-negative")
	}
	if c.AmountTolerance.IsNegative() || c.ManualAmountTolerancePct.IsNegative() {
		return domain.ValidationErrorf("amount tolerances must be non-negative")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 100 {
		return domain.ValidationErrorf("confidence floor %d outside 0..100", c.ConfidenceFloor)
	}
	return nil
}

var minManualTolerance = decimal.RequireFromString("0.01")

// manualTolerance is max(0.01, pct% of amount).
func (c MatchConfig) manualTolerance(amount decimal.Decimal) decimal.Decimal {
	tol := amount.Abs().Mul(c.ManualAmountTolerancePct).Div(decimal.NewFromInt(100))
	if tol.LessThan(minManualTolerance) {
		return minManualTolerance
	}
	return tol
}
