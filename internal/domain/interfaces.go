package domain

import (
	"context"

	"equity_go/pkg/quant"
)

// QuoteSource fetches raw market data for an upstream ticker.
// Implementations return an *UpstreamError on non-200, transport or decode failures.
type QuoteSource interface {
	FetchQuote(ctx context.Context, symbol string) (UpstreamQuote, error)
	FetchIntraday(ctx context.Context, symbol string) (UpstreamSeries, error)
}

// SubmitRequest describes a trade to be recorded by the settlement collaborator.
type SubmitRequest struct {
	Side     Side
	Symbol   string
	From     string      // custodian address
	Amount   quant.Paise // BUY: paise spent
	Quantity quant.Wei   // SELL: units burned
}

// Settler obtains a settlement receipt for a trade.
type Settler interface {
	Submit(ctx context.Context, req SubmitRequest) (Receipt, error)
}

// LedgerTx is the per-account read-modify-write surface inside one transaction.
type LedgerTx interface {
	// Account loads the locked account or returns ErrNotFound.
	Account() (*Account, error)
	SaveAccount(a *Account) error
	// Position returns nil, nil when the account holds no position in symbol.
	Position(symbol string) (*Position, error)
	SavePosition(p *Position) error
	DeletePosition(p *Position) error
	AppendTrade(t *TradeRecord) error
}

// Ledger persists accounts, positions and trades.
type Ledger interface {
	// WithAccount runs fn in a single transaction; any error rolls everything back.
	WithAccount(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	// GetPosition returns nil, nil when the account holds no position in symbol.
	GetPosition(ctx context.Context, accountID, symbol string) (*Position, error)
	// Snapshot reads the account, its positions and up to tradeLimit newest
	// trades as one consistent view, or returns ErrNotFound.
	Snapshot(ctx context.Context, accountID string, tradeLimit int) (AccountSnapshot, error)
}

// AccountSnapshot is a point-in-time read of one account.
type AccountSnapshot struct {
	Account   Account
	Positions []Position
	Trades    []TradeRecord
}
