package quant

import (
	"math"

	"github.com/shopspring/decimal"
)

// Paise is an amount of money in minor units (1 rupee = 100 paise).
// All balances, prices and average costs are strictly Paise.
type Paise int64

// PaisePerRupee is the minor-unit scale of the demonstration currency.
const PaisePerRupee = 100

// Add returns p+o. Panics on overflow.
func (p Paise) Add(o Paise) Paise {
	if (o > 0 && p > math.MaxInt64-o) || (o < 0 && p < math.MinInt64-o) {
		panic("QUANT_PAISE_ADD_OVERFLOW")
	}
	return p + o
}

// Sub returns p-o. Panics on overflow.
func (p Paise) Sub(o Paise) Paise {
	if (o > 0 && p < math.MinInt64+o) || (o < 0 && p > math.MaxInt64+o) {
		panic("QUANT_PAISE_SUB_OVERFLOW")
	}
	return p - o
}

// Rupees converts to rupees for display. Never feed the result back into a balance.
func (p Paise) Rupees() decimal.Decimal {
	return decimal.New(int64(p), -2)
}

// String formats the amount in rupees with two decimals.
func (p Paise) String() string {
	return p.Rupees().StringFixed(2)
}

// PaiseFromRupees converts a boundary value (config, upstream JSON) into paise.
// Sub-paisa fractions are rounded half away from zero.
func PaiseFromRupees(rupees decimal.Decimal) Paise {
	return Paise(rupees.Shift(2).Round(0).IntPart())
}

// PaiseFromFloat is the float variant of PaiseFromRupees used for upstream feeds.
func PaiseFromFloat(rupees float64) Paise {
	return PaiseFromRupees(decimal.NewFromFloat(rupees))
}
