package domain

import (
	"fmt"
	"time"

	"equity_go/pkg/quant"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// DefaultStartingBalance is the cash a new account opens with (₹1000).
const DefaultStartingBalance quant.Paise = 100_000

// Account holds a user's cash. Only the settlement engine mutates it.
type Account struct {
	ID           string      `gorm:"primaryKey" json:"id"`
	BalancePaise quant.Paise `json:"balance_paise"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Credit adds funds to the account. Panics on overflow.
func (a *Account) Credit(amount quant.Paise) {
	a.BalancePaise = a.BalancePaise.Add(amount)
}

// Debit removes funds. Panics if insufficient; callers validate first.
func (a *Account) Debit(amount quant.Paise) {
	if amount > a.BalancePaise {
		panic(fmt.Sprintf("ACCOUNT_INSUFFICIENT: %s need %d, available %d",
			a.ID, amount, a.BalancePaise))
	}
	a.BalancePaise = a.BalancePaise.Sub(amount)
}

// VerifyInvariant panics if the balance went negative.
func (a *Account) VerifyInvariant() {
	if a.BalancePaise < 0 {
		panic(fmt.Sprintf("ACCOUNT_INVARIANT_NEGATIVE_BALANCE: %s = %d", a.ID, a.BalancePaise))
	}
}

// Position is an account's holding in one symbol.
// A position that reaches exactly zero is deleted, never stored empty.
type Position struct {
	ID        uint        `gorm:"primaryKey" json:"-"`
	AccountID string      `gorm:"uniqueIndex:idx_position_account_symbol;not null" json:"account_id"`
	Symbol    string      `gorm:"uniqueIndex:idx_position_account_symbol;not null" json:"symbol"`
	Quantity  quant.Wei   `json:"quantity"`
	AvgCost   quant.Paise `json:"avg_cost_paise"` // per whole token
	UpdatedAt time.Time   `json:"updated_at"`
}

// CostBasis is avgCost * quantity in paise, rounded down.
func (p *Position) CostBasis() quant.Paise {
	return quant.AmountForTokens(p.Quantity, p.AvgCost)
}

// Receipt is the proof-of-execution metadata attached to a trade.
type Receipt struct {
	Hash        string `json:"hash"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
	GasPrice    uint64 `json:"gas_price"` // wei
	From        string `json:"from"`
	To          string `json:"to"`
	Simulated   bool   `json:"simulated"` // true when synthesized locally
}

// TradeRecord is one append-only ledger entry.
type TradeRecord struct {
	Seq         uint64      `gorm:"primaryKey;autoIncrement" json:"-"`
	ID          string      `gorm:"uniqueIndex;not null" json:"id"`
	AccountID   string      `gorm:"index;not null" json:"account_id"`
	Side        Side        `gorm:"not null" json:"side"`
	Symbol      string      `gorm:"not null" json:"symbol"`
	Quantity    quant.Wei   `json:"quantity"`
	PricePaise  quant.Paise `json:"price_paise"`  // per whole token
	AmountPaise quant.Paise `json:"amount_paise"` // cash moved
	Receipt     Receipt     `gorm:"embedded;embeddedPrefix:receipt_" json:"receipt"`
	CreatedAt   time.Time   `gorm:"index" json:"created_at"`
}
