package domain

import (
	"github.com/shopspring/decimal"

	"equity_go/pkg/quant"
)

// Quote is one priced observation of a ticker, already converted to paise.
// Produced by the price feed on each successful fetch and never mutated.
type Quote struct {
	Symbol          string          `json:"symbol"`
	PricePaise      quant.Paise     `json:"price_paise"` // > 0
	TimestampMillis int64           `json:"timestamp"`
	ChangePaise     quant.Paise     `json:"change_paise"`
	ChangePercent   decimal.Decimal `json:"change_percent"` // 2 decimal places
	Currency        string          `json:"currency"`
	Intraday        []quant.Paise   `json:"intraday,omitempty"`
	Source          string          `json:"source"`
}

// UpstreamQuote is the raw quote as reported by the upstream feed, in its own currency.
type UpstreamQuote struct {
	Symbol        string
	Price         decimal.Decimal
	PreviousClose decimal.Decimal
	Currency      string
}

// UpstreamSeries is a raw one-minute close series in the upstream currency.
type UpstreamSeries struct {
	Symbol   string
	Currency string
	Closes   []decimal.Decimal
}
