package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/clock"
	"equity_go/pkg/quant"
)

var errBoom = errors.New("boom")

// fakeSource is an in-memory QuoteSource.
type fakeSource struct {
	mu          sync.Mutex
	price       decimal.Decimal
	prevClose   decimal.Decimal
	currency    string
	closes      []decimal.Decimal
	fail        map[string]error
	quoteCalls  int
	seriesCalls int
}

func newFakeSource(rupees int64) *fakeSource {
	return &fakeSource{
		price:     decimal.NewFromInt(rupees),
		prevClose: decimal.NewFromInt(rupees),
		currency:  "INR",
		fail:      make(map[string]error),
	}
}

func (f *fakeSource) setPrice(rupees int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = decimal.NewFromInt(rupees)
}

func (f *fakeSource) failWith(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[symbol] = err
}

func (f *fakeSource) calls() (quotes, series int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quoteCalls, f.seriesCalls
}

func (f *fakeSource) FetchQuote(_ context.Context, symbol string) (domain.UpstreamQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quoteCalls++
	if err := f.fail[symbol]; err != nil {
		return domain.UpstreamQuote{}, err
	}
	return domain.UpstreamQuote{Symbol: symbol, Price: f.price, PreviousClose: f.prevClose, Currency: f.currency}, nil
}

func (f *fakeSource) FetchIntraday(_ context.Context, symbol string) (domain.UpstreamSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seriesCalls++
	if err := f.fail[symbol]; err != nil {
		return domain.UpstreamSeries{}, err
	}
	return domain.UpstreamSeries{Symbol: symbol, Currency: f.currency, Closes: f.closes}, nil
}

func testConfig() *infra.Config {
	return infra.DefaultConfig()
}

func testClock() *clock.Manual {
	return clock.NewManual(time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC))
}

func within(got, want quant.Paise, band float64) bool {
	d := float64(got - want)
	if d < 0 {
		d = -d
	}
	return d <= float64(want)*band+1
}
