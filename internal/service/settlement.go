package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/clock"
	"equity_go/pkg/quant"
)

const (
	// RecentTradesLimit is how many trades a portfolio view carries.
	RecentTradesLimit = 20

	lockStripes = 64
)

// Pricer is the price lookup trades settle against.
type Pricer interface {
	GetPriceOrFallback(ctx context.Context, symbol string, fallback quant.Paise) quant.Paise
}

// BuyResult describes a settled purchase.
type BuyResult struct {
	TradeID        string         `json:"trade_id"`
	TokensReceived quant.Wei      `json:"tokens_received"`
	PriceUsed      quant.Paise    `json:"price_used"`
	AmountSpent    quant.Paise    `json:"amount_spent"`
	NewBalance     quant.Paise    `json:"new_balance"`
	Receipt        domain.Receipt `json:"receipt"`
}

// SellResult describes a settled sale.
type SellResult struct {
	TradeID           string         `json:"trade_id"`
	TokensSold        quant.Wei      `json:"tokens_sold"`
	AmountReceived    quant.Paise    `json:"amount_received"`
	PriceUsed         quant.Paise    `json:"price_used"`
	NewBalance        quant.Paise    `json:"new_balance"`
	RemainingQuantity quant.Wei      `json:"remaining_quantity"`
	Receipt           domain.Receipt `json:"receipt"`
}

// PortfolioPosition is one holding valued at the current price.
type PortfolioPosition struct {
	Symbol            string          `json:"symbol"`
	TokenSymbol       string          `json:"token_symbol"`
	Quantity          quant.Wei       `json:"quantity"`
	AvgCost           quant.Paise     `json:"avg_cost"`
	CurrentPrice      quant.Paise     `json:"current_price"`
	Invested          quant.Paise     `json:"invested"`
	CurrentValue      quant.Paise     `json:"current_value"`
	ProfitLoss        quant.Paise     `json:"profit_loss"`
	ProfitLossPercent decimal.Decimal `json:"profit_loss_percent"`
}

// Portfolio is a read-only snapshot of an account.
type Portfolio struct {
	AccountID              string               `json:"account_id"`
	Balance                quant.Paise          `json:"balance"`
	Positions              []PortfolioPosition  `json:"positions"`
	TotalInvested          quant.Paise          `json:"total_invested"`
	TotalCurrentValue      quant.Paise          `json:"total_current_value"`
	TotalProfitLoss        quant.Paise          `json:"total_profit_loss"`
	TotalProfitLossPercent decimal.Decimal      `json:"total_profit_loss_percent"`
	RecentTrades           []domain.TradeRecord `json:"recent_trades"`
}

// accountLocks serializes trades per account. Different accounts rarely share a stripe.
type accountLocks struct {
	stripes [lockStripes]sync.Mutex
}

func (l *accountLocks) lock(accountID string) func() {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// SettlementEngine executes buys and sells against the ledger.
// Balances, quantities and average costs are integer fixed point throughout.
type SettlementEngine struct {
	ledger  domain.Ledger
	prices  Pricer
	catalog *domain.Catalog
	settler domain.Settler
	locks   accountLocks

	minAmount       quant.Paise
	minTokens       quant.Wei
	fallbackPrice   quant.Paise
	startingBalance quant.Paise
	custodian       string

	clock   clock.Clock
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewSettlementEngine wires the engine. metrics may be nil.
func NewSettlementEngine(ledger domain.Ledger, prices Pricer, catalog *domain.Catalog, settler domain.Settler,
	cfg *infra.Config, clk clock.Clock, metrics *infra.Metrics) *SettlementEngine {
	if clk == nil {
		clk = clock.System{}
	}
	return &SettlementEngine{
		ledger:          ledger,
		prices:          prices,
		catalog:         catalog,
		settler:         settler,
		minAmount:       quant.Paise(cfg.Trading.MinAmountPaise),
		minTokens:       quant.NewWei(cfg.Trading.MinTokenWei),
		fallbackPrice:   cfg.FallbackPrice(),
		startingBalance: quant.Paise(cfg.Trading.StartingBalancePaise),
		custodian:       cfg.Settlement.CustodianAddress,
		clock:           clk,
		metrics:         metrics,
		logger:          slog.Default().With("module", "settlement"),
	}
}

// Buy spends amount paise of the account's cash on symbol at the current price.
func (e *SettlementEngine) Buy(ctx context.Context, accountID string, amount quant.Paise, symbol string) (BuyResult, error) {
	start := e.clock.Now()

	stock, err := e.validate(amount, symbol)
	if err != nil {
		return BuyResult{}, e.reject(err)
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	acct, err := e.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return BuyResult{}, e.fail(err)
	}

	price := e.prices.GetPriceOrFallback(ctx, stock.YahooSymbol, e.fallbackPrice)
	if acct.BalancePaise < amount {
		return BuyResult{}, e.reject(&domain.InsufficientFundsError{Available: acct.BalancePaise, Required: amount})
	}

	tokens := quant.TokensForAmount(amount, price)
	if tokens.LessThan(e.minTokens) {
		return BuyResult{}, e.reject(fmt.Errorf("%w: %s paise buys %s units at %s", domain.ErrInvalidAmount, amount, tokens, price))
	}

	receipt, err := e.settler.Submit(ctx, domain.SubmitRequest{
		Side: domain.SideBuy, Symbol: stock.Symbol, From: e.custodian, Amount: amount,
	})
	if err != nil {
		return BuyResult{}, e.fail(fmt.Errorf("settle buy %s: %w", stock.Symbol, err))
	}

	res := BuyResult{
		TradeID:        uuid.NewString(),
		TokensReceived: tokens,
		PriceUsed:      price,
		AmountSpent:    amount,
		Receipt:        receipt,
	}

	err = e.ledger.WithAccount(ctx, accountID, func(tx domain.LedgerTx) error {
		acct, err := tx.Account()
		if err != nil {
			return err
		}
		if acct.BalancePaise < amount {
			return &domain.InsufficientFundsError{Available: acct.BalancePaise, Required: amount}
		}
		acct.Debit(amount)
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		pos, err := tx.Position(stock.Symbol)
		if err != nil {
			return err
		}
		if pos == nil {
			pos = &domain.Position{
				AccountID: accountID,
				Symbol:    stock.Symbol,
				Quantity:  tokens,
				AvgCost:   quant.InitialAvgCost(amount, tokens),
			}
		} else {
			newQty := pos.Quantity.Add(tokens)
			pos.AvgCost = quant.WeightedAvgCost(pos.AvgCost, pos.Quantity, amount, newQty)
			pos.Quantity = newQty
		}
		if err := tx.SavePosition(pos); err != nil {
			return err
		}

		res.NewBalance = acct.BalancePaise
		return tx.AppendTrade(e.trade(res.TradeID, accountID, domain.SideBuy, stock.Symbol, tokens, price, amount, receipt))
	})
	if err != nil {
		return BuyResult{}, e.fail(err)
	}

	if e.metrics != nil {
		e.metrics.RecordTrade(true, e.clock.Now().Sub(start))
	}
	e.logger.Info("✅ Buy settled",
		slog.String("account", accountID),
		slog.String("symbol", stock.Symbol),
		slog.String("tokens", tokens.Tokens().String()),
		slog.String("price", price.String()),
		slog.Bool("simulated", receipt.Simulated))
	return res, nil
}

// Sell sells tokens worth amount paise at the current price and credits the cash.
func (e *SettlementEngine) Sell(ctx context.Context, accountID string, amount quant.Paise, symbol string) (SellResult, error) {
	start := e.clock.Now()

	stock, err := e.validate(amount, symbol)
	if err != nil {
		return SellResult{}, e.reject(err)
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	if _, err := e.ledger.GetAccount(ctx, accountID); err != nil {
		return SellResult{}, e.fail(err)
	}

	pos, err := e.ledger.GetPosition(ctx, accountID, stock.Symbol)
	if err != nil {
		return SellResult{}, e.fail(err)
	}
	if pos == nil {
		return SellResult{}, e.reject(fmt.Errorf("%w in %s", domain.ErrNoHoldings, stock.Symbol))
	}

	price := e.prices.GetPriceOrFallback(ctx, stock.YahooSymbol, e.fallbackPrice)
	tokens := quant.TokensForAmount(amount, price)
	if tokens.IsZero() || tokens.LessThan(e.minTokens) {
		return SellResult{}, e.reject(fmt.Errorf("%w: %s paise sells %s units at %s", domain.ErrInvalidAmount, amount, tokens, price))
	}
	if pos.Quantity.LessThan(tokens) {
		return SellResult{}, e.reject(&domain.InsufficientTokensError{
			Symbol: stock.TokenSymbol(), Available: pos.Quantity, Required: tokens,
		})
	}

	receipt, err := e.settler.Submit(ctx, domain.SubmitRequest{
		Side: domain.SideSell, Symbol: stock.Symbol, From: e.custodian, Quantity: tokens,
	})
	if err != nil {
		return SellResult{}, e.fail(fmt.Errorf("settle sell %s: %w", stock.Symbol, err))
	}

	res := SellResult{
		TradeID:        uuid.NewString(),
		TokensSold:     tokens,
		AmountReceived: amount,
		PriceUsed:      price,
		Receipt:        receipt,
	}

	err = e.ledger.WithAccount(ctx, accountID, func(tx domain.LedgerTx) error {
		acct, err := tx.Account()
		if err != nil {
			return err
		}
		pos, err := tx.Position(stock.Symbol)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("%w in %s", domain.ErrNoHoldings, stock.Symbol)
		}
		if pos.Quantity.LessThan(tokens) {
			return &domain.InsufficientTokensError{Symbol: stock.TokenSymbol(), Available: pos.Quantity, Required: tokens}
		}

		acct.Credit(amount)
		if err := tx.SaveAccount(acct); err != nil {
			return err
		}

		pos.Quantity = pos.Quantity.Sub(tokens)
		if pos.Quantity.IsZero() {
			err = tx.DeletePosition(pos)
		} else {
			err = tx.SavePosition(pos)
		}
		if err != nil {
			return err
		}

		res.NewBalance = acct.BalancePaise
		res.RemainingQuantity = pos.Quantity
		return tx.AppendTrade(e.trade(res.TradeID, accountID, domain.SideSell, stock.Symbol, tokens, price, amount, receipt))
	})
	if err != nil {
		return SellResult{}, e.fail(err)
	}

	if e.metrics != nil {
		e.metrics.RecordTrade(false, e.clock.Now().Sub(start))
	}
	e.logger.Info("✅ Sell settled",
		slog.String("account", accountID),
		slog.String("symbol", stock.Symbol),
		slog.String("tokens", tokens.Tokens().String()),
		slog.String("price", price.String()),
		slog.Bool("simulated", receipt.Simulated))
	return res, nil
}

// QuoteTokens previews how many units amount paise buys at the current price.
func (e *SettlementEngine) QuoteTokens(ctx context.Context, amount quant.Paise, symbol string) (quant.Wei, quant.Paise, error) {
	stock, err := e.validate(amount, symbol)
	if err != nil {
		return quant.Wei{}, 0, err
	}
	price := e.prices.GetPriceOrFallback(ctx, stock.YahooSymbol, e.fallbackPrice)
	return quant.TokensForAmount(amount, price), price, nil
}

// OpenAccount returns the account, creating it with the starting balance if missing.
func (e *SettlementEngine) OpenAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: empty account id", domain.ErrNotFound)
	}

	unlock := e.locks.lock(accountID)
	defer unlock()

	acct, err := e.ledger.GetAccount(ctx, accountID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	acct = &domain.Account{ID: accountID, BalancePaise: e.startingBalance}
	if err := e.ledger.CreateAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("create account %s: %w", accountID, err)
	}
	e.logger.Info("🆕 Account opened",
		slog.String("account", accountID),
		slog.String("balance", acct.BalancePaise.String()))
	return acct, nil
}

// Portfolio values every position at the current price. It reads one ledger
// snapshot and does not wait for in-flight trades on the account.
func (e *SettlementEngine) Portfolio(ctx context.Context, accountID string) (Portfolio, error) {
	snap, err := e.ledger.Snapshot(ctx, accountID, RecentTradesLimit)
	if err != nil {
		return Portfolio{}, err
	}
	positions := snap.Positions

	out := Portfolio{
		AccountID:    accountID,
		Balance:      snap.Account.BalancePaise,
		Positions:    make([]PortfolioPosition, 0, len(positions)),
		RecentTrades: snap.Trades,
	}

	for i := range positions {
		p := &positions[i]
		upstream, tokenSymbol := p.Symbol, p.Symbol
		if st, ok := e.catalog.Lookup(p.Symbol); ok {
			upstream, tokenSymbol = st.YahooSymbol, st.TokenSymbol()
		}

		price := e.prices.GetPriceOrFallback(ctx, upstream, e.fallbackPrice)
		invested := p.CostBasis()
		value := quant.AmountForTokens(p.Quantity, price)
		pl := value.Sub(invested)

		out.Positions = append(out.Positions, PortfolioPosition{
			Symbol:            p.Symbol,
			TokenSymbol:       tokenSymbol,
			Quantity:          p.Quantity,
			AvgCost:           p.AvgCost,
			CurrentPrice:      price,
			Invested:          invested,
			CurrentValue:      value,
			ProfitLoss:        pl,
			ProfitLossPercent: percentOf(pl, invested),
		})
		out.TotalInvested = out.TotalInvested.Add(invested)
		out.TotalCurrentValue = out.TotalCurrentValue.Add(value)
	}

	out.TotalProfitLoss = out.TotalCurrentValue.Sub(out.TotalInvested)
	out.TotalProfitLossPercent = percentOf(out.TotalProfitLoss, out.TotalInvested)
	return out, nil
}

func (e *SettlementEngine) validate(amount quant.Paise, symbol string) (domain.Stock, error) {
	if amount <= 0 || amount < e.minAmount {
		return domain.Stock{}, fmt.Errorf("%w: %d paise", domain.ErrInvalidAmount, amount)
	}
	stock, ok := e.catalog.Lookup(symbol)
	if !ok {
		return domain.Stock{}, fmt.Errorf("%w: %s", domain.ErrUnknownSymbol, symbol)
	}
	return stock, nil
}

func (e *SettlementEngine) trade(id, accountID string, side domain.Side, symbol string,
	qty quant.Wei, price, amount quant.Paise, receipt domain.Receipt) *domain.TradeRecord {
	return &domain.TradeRecord{
		ID:          id,
		AccountID:   accountID,
		Side:        side,
		Symbol:      symbol,
		Quantity:    qty,
		PricePaise:  price,
		AmountPaise: amount,
		Receipt:     receipt,
		CreatedAt:   e.clock.Now(),
	}
}

// reject counts business-rule refusals.
func (e *SettlementEngine) reject(err error) error {
	if e.metrics != nil {
		e.metrics.RecordRejected()
	}
	return err
}

func (e *SettlementEngine) fail(err error) error {
	var funds *domain.InsufficientFundsError
	var tokens *domain.InsufficientTokensError
	if errors.As(err, &funds) || errors.As(err, &tokens) ||
		errors.Is(err, domain.ErrNoHoldings) || errors.Is(err, domain.ErrNotFound) {
		return e.reject(err)
	}
	if e.metrics != nil {
		e.metrics.RecordError()
	}
	e.logger.Error("Trade failed", slog.Any("error", err))
	return err
}

func percentOf(part, whole quant.Paise) decimal.Decimal {
	if whole <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(part)).Div(decimal.NewFromInt(int64(whole))).Mul(hundred).Round(2)
}
