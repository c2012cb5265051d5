package domain

import "equity_go/pkg/quant"

// OrderBookLevel is one synthetic resting level. The book is display data and is never matched.
type OrderBookLevel struct {
	PricePaise quant.Paise `json:"price"`
	Quantity   quant.Wei   `json:"quantity"`
	TotalPaise quant.Paise `json:"total"` // price * quantity
}

// OrderBookSnapshot is one second of a precomputed order-book loop.
// Bids are sorted descending and asks ascending; best bid < best ask.
type OrderBookSnapshot struct {
	Second int              `json:"second"` // 0..59
	Bids   []OrderBookLevel `json:"bids"`
	Asks   []OrderBookLevel `json:"asks"`
}

// OrderBook is the live view returned to display callers.
type OrderBook struct {
	Symbol     string           `json:"symbol"`
	Second     int              `json:"second"`
	Bids       []OrderBookLevel `json:"bids"`
	Asks       []OrderBookLevel `json:"asks"`
	LastUpdate int64            `json:"last_update"` // unix millis
}

// BestPrices returns the top of book and its spread. Zeros when a side is empty.
func (b OrderBook) BestPrices() (bid, ask, spread quant.Paise) {
	if len(b.Bids) > 0 {
		bid = b.Bids[0].PricePaise
	}
	if len(b.Asks) > 0 {
		ask = b.Asks[0].PricePaise
	}
	return bid, ask, ask - bid
}

// IsEmpty reports whether the book has no levels on either side.
func (b OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}
