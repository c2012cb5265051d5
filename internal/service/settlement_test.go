package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity_go/internal/chain"
	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/internal/infra/storage"
	"equity_go/pkg/quant"
)

const (
	oneCrorePaise quant.Paise = 10_000_000 // ₹1,00,000 per token
	custodian                 = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	contract                  = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

// fixedPricer quotes a settable price per upstream ticker.
type fixedPricer struct {
	mu     sync.Mutex
	prices map[string]quant.Paise
}

func (p *fixedPricer) set(symbol string, price quant.Paise) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *fixedPricer) GetPriceOrFallback(_ context.Context, symbol string, fallback quant.Paise) quant.Paise {
	p.mu.Lock()
	defer p.mu.Unlock()
	if price, ok := p.prices[symbol]; ok {
		return price
	}
	return fallback
}

type engineFixture struct {
	engine  *SettlementEngine
	ledger  *storage.Storage
	pricer  *fixedPricer
	metrics *infra.Metrics
}

func newEngineFixture(t *testing.T, pricer Pricer, settler domain.Settler) *engineFixture {
	t.Helper()
	ledger, err := storage.NewStorage(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	fp, _ := pricer.(*fixedPricer)
	if pricer == nil {
		fp = &fixedPricer{prices: map[string]quant.Paise{"MRF.NS": oneCrorePaise}}
		pricer = fp
	}
	if settler == nil {
		settler = chain.NewLocalSettler(custodian, contract)
	}

	m := &infra.Metrics{}
	catalog := domain.NewCatalog(domain.DefaultStocks())
	return &engineFixture{
		engine:  NewSettlementEngine(ledger, pricer, catalog, settler, testConfig(), testClock(), m),
		ledger:  ledger,
		pricer:  fp,
		metrics: m,
	}
}

func (f *engineFixture) account(t *testing.T, id string, balance quant.Paise) {
	t.Helper()
	require.NoError(t, f.ledger.CreateAccount(context.Background(), &domain.Account{ID: id, BalancePaise: balance}))
}

func (f *engineFixture) balance(t *testing.T, id string) quant.Paise {
	t.Helper()
	a, err := f.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.BalancePaise
}

func wei(s string) quant.Wei {
	w, err := quant.ParseWei(s)
	if err != nil {
		panic(err)
	}
	return w
}

func TestSettlement_BuyThenSell(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	buy, err := f.engine.Buy(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)
	assert.True(t, buy.TokensReceived.Equal(wei("1000000000000000")), "got %s", buy.TokensReceived)
	assert.Equal(t, oneCrorePaise, buy.PriceUsed)
	assert.Equal(t, quant.Paise(10_000), buy.AmountSpent)
	assert.Equal(t, quant.Paise(90_000), buy.NewBalance)
	assert.True(t, buy.Receipt.Simulated)
	assert.NotEmpty(t, buy.TradeID)

	pos, err := f.ledger.GetPosition(ctx, "alice", "MRF")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, oneCrorePaise, pos.AvgCost)

	sell, err := f.engine.Sell(ctx, "alice", 5_000, "MRF")
	require.NoError(t, err)
	assert.True(t, sell.TokensSold.Equal(wei("500000000000000")), "got %s", sell.TokensSold)
	assert.Equal(t, quant.Paise(5_000), sell.AmountReceived)
	assert.Equal(t, quant.Paise(95_000), sell.NewBalance)
	assert.True(t, sell.RemainingQuantity.Equal(wei("500000000000000")))
	assert.Equal(t, quant.Paise(95_000), f.balance(t, "alice"))

	trades, err := f.ledger.RecentTrades(ctx, "alice", 20)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, domain.SideSell, trades[0].Side)
	assert.Equal(t, sell.TradeID, trades[0].ID)
	assert.Equal(t, buy.TradeID, trades[1].ID)

	snap := f.metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Buys)
	assert.Equal(t, uint64(1), snap.Sells)
}

func TestSettlement_WeightedAverageCost(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	_, err := f.engine.Buy(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)
	f.pricer.set("MRF.NS", 2*oneCrorePaise)
	_, err = f.engine.Buy(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)

	pos, err := f.ledger.GetPosition(ctx, "alice", "MRF")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(wei("1500000000000000")), "got %s", pos.Quantity)
	assert.Equal(t, quant.Paise(13_333_333), pos.AvgCost)
}

func TestSettlement_SellWholePositionDeletesIt(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	_, err := f.engine.Buy(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)
	sell, err := f.engine.Sell(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)

	assert.True(t, sell.RemainingQuantity.IsZero())
	positions, err := f.ledger.ListPositions(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.Equal(t, quant.Paise(100_000), f.balance(t, "alice"))

	_, err = f.engine.Sell(ctx, "alice", 1_000, "MRF")
	assert.ErrorIs(t, err, domain.ErrNoHoldings)
}

func TestSettlement_InsufficientFunds(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100)

	_, err := f.engine.Buy(ctx, "alice", 1_000, "MRF")

	var funds *domain.InsufficientFundsError
	require.ErrorAs(t, err, &funds)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, quant.Paise(100), funds.Available)
	assert.Equal(t, quant.Paise(1_000), funds.Required)

	assert.Equal(t, quant.Paise(100), f.balance(t, "alice"))
	trades, _ := f.ledger.RecentTrades(ctx, "alice", 20)
	assert.Empty(t, trades)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().TradesRejected)
}

func TestSettlement_InsufficientTokens(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	_, err := f.engine.Buy(ctx, "alice", 1_000, "MRF")
	require.NoError(t, err)

	_, err = f.engine.Sell(ctx, "alice", 2_000, "MRF")
	var tokens *domain.InsufficientTokensError
	require.ErrorAs(t, err, &tokens)
	assert.ErrorIs(t, err, domain.ErrInsufficientTokens)
	assert.Equal(t, "MRFf", tokens.Symbol)
	assert.True(t, tokens.Available.Equal(wei("100000000000000")))
	assert.True(t, tokens.Required.Equal(wei("200000000000000")))
	assert.Equal(t, quant.Paise(99_000), f.balance(t, "alice"))
}

func TestSettlement_Rejections(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	tests := []struct {
		name    string
		account string
		amount  quant.Paise
		symbol  string
		want    error
	}{
		{"zero amount", "alice", 0, "MRF", domain.ErrInvalidAmount},
		{"negative amount", "alice", -5, "MRF", domain.ErrInvalidAmount},
		{"unknown symbol", "alice", 1_000, "NOPE", domain.ErrUnknownSymbol},
		{"missing account", "ghost", 1_000, "MRF", domain.ErrNotFound},
		{"amount checked before symbol", "alice", 0, "NOPE", domain.ErrInvalidAmount},
		{"symbol checked before account", "ghost", 1_000, "NOPE", domain.ErrUnknownSymbol},
	}

	for _, tt := range tests {
		t.Run("buy "+tt.name, func(t *testing.T) {
			_, err := f.engine.Buy(ctx, tt.account, tt.amount, tt.symbol)
			assert.ErrorIs(t, err, tt.want)
		})
		t.Run("sell "+tt.name, func(t *testing.T) {
			_, err := f.engine.Sell(ctx, tt.account, tt.amount, tt.symbol)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Equal(t, quant.Paise(100_000), f.balance(t, "alice"))
}

func TestSettlement_DustTradeRejected(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)
	f.pricer.set("MRF.NS", 5_000_000_000_000_000_000) // 1 paisa buys zero units

	_, err := f.engine.Buy(ctx, "alice", 1, "MRF")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Equal(t, quant.Paise(100_000), f.balance(t, "alice"))
}

func TestSettlement_FallbackPriceWhenFeedDown(t *testing.T) {
	src := newFakeSource(0)
	src.failWith("MRF.NS", &domain.UpstreamError{Op: "quote", Symbol: "MRF.NS", Status: 503, Err: errBoom})
	m := &infra.Metrics{}
	feed := NewPriceFeed(src, testConfig(), testClock(), NewRand(1), m)

	f := newEngineFixture(t, feed, nil)
	f.account(t, "alice", 100_000)

	buy, err := f.engine.Buy(context.Background(), "alice", 10_000, "MRF")
	require.NoError(t, err)
	assert.Equal(t, oneCrorePaise, buy.PriceUsed)
	assert.True(t, buy.TokensReceived.Equal(wei("1000000000000000")))
	assert.Equal(t, uint64(1), m.Snapshot().FallbackPrices)
}

func TestSettlement_SimulatedReceiptWhenGatewayDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := &infra.Metrics{}
	settler := chain.NewFallbackSettler(
		chain.NewGatewaySettler(server.URL, time.Second, nil),
		chain.NewLocalSettler(custodian, contract),
		1500*time.Millisecond, m)

	f := newEngineFixture(t, nil, settler)
	f.account(t, "alice", 100_000)

	buy, err := f.engine.Buy(context.Background(), "alice", 10_000, "MRF")
	require.NoError(t, err)
	assert.True(t, buy.Receipt.Simulated)
	assert.Equal(t, custodian, buy.Receipt.From)
	assert.Equal(t, contract, buy.Receipt.To)
	assert.Equal(t, chain.OneGwei, buy.Receipt.GasPrice)
	assert.Equal(t, uint64(1), m.Snapshot().SimulatedReceipts)
}

type failingSettler struct{}

func (failingSettler) Submit(context.Context, domain.SubmitRequest) (domain.Receipt, error) {
	return domain.Receipt{}, domain.ErrSettlementUnavailable
}

func TestSettlement_SettlerErrorLeavesLedgerUntouched(t *testing.T) {
	f := newEngineFixture(t, nil, failingSettler{})
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	_, err := f.engine.Buy(ctx, "alice", 10_000, "MRF")
	assert.ErrorIs(t, err, domain.ErrSettlementUnavailable)
	assert.Equal(t, quant.Paise(100_000), f.balance(t, "alice"))

	positions, _ := f.ledger.ListPositions(ctx, "alice")
	assert.Empty(t, positions)
	assert.Equal(t, uint64(1), f.metrics.Snapshot().ErrorsTotal)
}

func TestSettlement_ConcurrentBuysDoNotLoseUpdates(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Buy(ctx, "alice", 1_000, "MRF"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent buy failed: %v", err)
	}

	assert.Equal(t, quant.Paise(50_000), f.balance(t, "alice"))
	pos, err := f.ledger.GetPosition(ctx, "alice", "MRF")
	require.NoError(t, err)
	assert.True(t, pos.Quantity.Equal(wei("5000000000000000")), "got %s", pos.Quantity)

	trades, _ := f.ledger.RecentTrades(ctx, "alice", 100)
	assert.Len(t, trades, n)
}

func TestSettlement_PortfolioNeverSeesHalfATrade(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	const n = 15
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			if _, err := f.engine.Buy(ctx, "alice", 1_000, "MRF"); err != nil {
				t.Errorf("buy %d failed: %v", i, err)
				return
			}
		}
	}()

	// At a constant price every buy moves cash into cost basis one for one
	check := func() {
		p, err := f.engine.Portfolio(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, quant.Paise(100_000), p.Balance.Add(p.TotalInvested),
			"balance %s invested %s", p.Balance, p.TotalInvested)
		require.Equal(t, quant.Paise(len(p.RecentTrades))*1_000, p.TotalInvested)
	}
	for {
		select {
		case <-done:
			check()
			return
		default:
			check()
		}
	}
}

func TestSettlement_ConcurrentSellsNeverOversell(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)
	_, err := f.engine.Buy(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Sell(ctx, "alice", 1_000, "MRF")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrNoHoldings), errors.Is(err, domain.ErrInsufficientTokens):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, short)
	assert.Equal(t, quant.Paise(100_000), f.balance(t, "alice"))
}

func TestSettlement_OpenAccount(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()

	a, err := f.engine.OpenAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultStartingBalance, a.BalancePaise)

	_, err = f.engine.Buy(ctx, "bob", 10_000, "MRF")
	require.NoError(t, err)

	again, err := f.engine.OpenAccount(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, quant.Paise(90_000), again.BalancePaise, "reopening must not reset the balance")

	_, err = f.engine.OpenAccount(ctx, "")
	assert.Error(t, err)
}

func TestSettlement_QuoteTokens(t *testing.T) {
	f := newEngineFixture(t, nil, nil)

	tokens, price, err := f.engine.QuoteTokens(context.Background(), 5_000, "MRF")
	require.NoError(t, err)
	assert.Equal(t, oneCrorePaise, price)
	assert.True(t, tokens.Equal(wei("500000000000000")))

	_, _, err = f.engine.QuoteTokens(context.Background(), 5_000, "NOPE")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

func TestSettlement_Portfolio(t *testing.T) {
	f := newEngineFixture(t, nil, nil)
	ctx := context.Background()
	f.account(t, "alice", 100_000)

	_, err := f.engine.Buy(ctx, "alice", 10_000, "MRF")
	require.NoError(t, err)
	f.pricer.set("MRF.NS", 2*oneCrorePaise)

	p, err := f.engine.Portfolio(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, quant.Paise(90_000), p.Balance)
	require.Len(t, p.Positions, 1)
	pos := p.Positions[0]
	assert.Equal(t, "MRFf", pos.TokenSymbol)
	assert.Equal(t, quant.Paise(10_000), pos.Invested)
	assert.Equal(t, quant.Paise(20_000), pos.CurrentValue)
	assert.Equal(t, quant.Paise(10_000), pos.ProfitLoss)
	assert.Equal(t, "100", pos.ProfitLossPercent.String())
	assert.Equal(t, quant.Paise(10_000), p.TotalProfitLoss)
	assert.Len(t, p.RecentTrades, 1)

	_, err = f.engine.Portfolio(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
