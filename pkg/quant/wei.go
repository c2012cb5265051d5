package quant

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// TokenDecimals is the fractional precision of an equity token.
const TokenDecimals = 18

var weiPerToken = decimal.New(1, TokenDecimals)

// Wei is a token quantity expressed as an integer number of 10^-18 token units.
// The value is always integral; 10^18 Wei is one whole token.
type Wei struct {
	d decimal.Decimal
}

// NewWei creates a Wei from an int64 count of units.
func NewWei(units int64) Wei {
	return Wei{d: decimal.NewFromInt(units)}
}

// WholeTokens creates a Wei holding n whole tokens.
func WholeTokens(n int64) Wei {
	return Wei{d: decimal.NewFromInt(n).Mul(weiPerToken)}
}

// ParseWei parses a plain integer string of units (optional leading '-').
func ParseWei(s string) (Wei, error) {
	if !isIntegerLiteral(s) {
		return Wei{}, fmt.Errorf("parse wei %q: not an integer", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Wei{}, fmt.Errorf("parse wei %q: %w", s, err)
	}
	if !d.IsInteger() {
		return Wei{}, fmt.Errorf("parse wei %q: fractional units", s)
	}
	return Wei{d: d}, nil
}

func isIntegerLiteral(s string) bool {
	if len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// WeiFromTokens converts a whole-token decimal (e.g. "0.5") to Wei, truncating
// anything finer than 10^-18.
func WeiFromTokens(tokens decimal.Decimal) Wei {
	return Wei{d: tokens.Shift(TokenDecimals).Truncate(0)}
}

func (w Wei) Add(o Wei) Wei { return Wei{d: w.d.Add(o.d)} }
func (w Wei) Sub(o Wei) Wei { return Wei{d: w.d.Sub(o.d)} }

// Cmp returns -1, 0 or +1.
func (w Wei) Cmp(o Wei) int { return w.d.Cmp(o.d) }

func (w Wei) LessThan(o Wei) bool { return w.d.LessThan(o.d) }
func (w Wei) Equal(o Wei) bool    { return w.d.Equal(o.d) }
func (w Wei) IsZero() bool        { return w.d.IsZero() }
func (w Wei) Sign() int           { return w.d.Sign() }

// String returns the integer unit count.
func (w Wei) String() string {
	return w.d.String()
}

// Tokens returns the quantity in whole-token units for display.
func (w Wei) Tokens() decimal.Decimal {
	return w.d.Shift(-TokenDecimals)
}

// MarshalJSON encodes the unit count as a JSON string to survive JS number limits.
func (w Wei) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.d.String())
}

func (w *Wei) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseWei(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

// Value stores Wei as TEXT so no precision is lost in SQLite.
func (w Wei) Value() (driver.Value, error) {
	return w.d.String(), nil
}

func (w *Wei) Scan(value interface{}) error {
	var d decimal.Decimal
	if err := d.Scan(value); err != nil {
		return err
	}
	if !d.IsInteger() {
		return fmt.Errorf("scan wei: fractional value %s", d.String())
	}
	w.d = d
	return nil
}

// GormDataType tells gorm which column type to migrate.
func (Wei) GormDataType() string {
	return "text"
}

// TokensForAmount returns floor(amount * 10^18 / price): the units an amount buys
// at a price quoted per whole token. Panics if price is not positive.
func TokensForAmount(amount, price Paise) Wei {
	if price <= 0 {
		panic(fmt.Sprintf("QUANT_NON_POSITIVE_PRICE: %d", price))
	}
	q, _ := decimal.NewFromInt(int64(amount)).Mul(weiPerToken).QuoRem(decimal.NewFromInt(int64(price)), 0)
	return Wei{d: q}
}

// AmountForTokens returns floor(qty * price / 10^18).
func AmountForTokens(qty Wei, price Paise) Paise {
	v, _ := qty.d.Mul(decimal.NewFromInt(int64(price))).QuoRem(weiPerToken, 0)
	return Paise(v.IntPart())
}

// InitialAvgCost is the per-whole-token cost of a first buy:
// floor(amount * 10^18 / qty). Panics on a zero quantity.
func InitialAvgCost(amount Paise, qty Wei) Paise {
	if qty.Sign() <= 0 {
		panic("QUANT_AVG_COST_ZERO_QTY")
	}
	v, _ := decimal.NewFromInt(int64(amount)).Mul(weiPerToken).QuoRem(qty.d, 0)
	return Paise(v.IntPart())
}

// WeightedAvgCost folds a new buy into an existing cost basis:
// floor((oldAvg*oldQty + amount*10^18) / newQty).
// Both numerator terms are in paise*10^18 so the result scale matches InitialAvgCost.
func WeightedAvgCost(oldAvg Paise, oldQty Wei, amount Paise, newQty Wei) Paise {
	if newQty.Sign() <= 0 {
		panic("QUANT_AVG_COST_ZERO_QTY")
	}
	held := decimal.NewFromInt(int64(oldAvg)).Mul(oldQty.d)
	added := decimal.NewFromInt(int64(amount)).Mul(weiPerToken)
	v, _ := held.Add(added).QuoRem(newQty.d, 0)
	return Paise(v.IntPart())
}
