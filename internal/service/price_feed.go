package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"equity_go/internal/cache"
	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/clock"
	"equity_go/pkg/quant"
)

const (
	// liveMoveBand bounds the per-fetch perturbation to ±0.1% of price.
	liveMoveBand = 0.001
	// maxConcurrentFetches limits GetMultiplePrices fan-out.
	maxConcurrentFetches = 5

	sourceYahoo = "yahoo"
)

var hundred = decimal.NewFromInt(100)

// SeriesSource supplies the one-minute session series attached to batch quotes.
type SeriesSource interface {
	GetIntradaySeries(ctx context.Context, symbol string) []quant.Paise
}

// PriceFeed serves live quotes in paise with a short-lived cache.
// Keys are upstream tickers (e.g. "MRF.NS").
type PriceFeed struct {
	source   domain.QuoteSource
	intraday SeriesSource // nil = batch quotes carry no series
	cache    *cache.TTL[domain.Quote]
	rate     decimal.Decimal
	clock    clock.Clock
	rnd      *Rand
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// NewPriceFeed wires a feed over source. metrics may be nil.
func NewPriceFeed(source domain.QuoteSource, cfg *infra.Config, clk clock.Clock, rnd *Rand, metrics *infra.Metrics) *PriceFeed {
	if clk == nil {
		clk = clock.System{}
	}
	if rnd == nil {
		rnd = NewRand(0)
	}
	return &PriceFeed{
		source:  source,
		cache:   cache.NewTTL[domain.Quote](cfg.QuoteTTL(), clk),
		rate:    cfg.Pricing.USDINRRate,
		clock:   clk,
		rnd:     rnd,
		metrics: metrics,
		logger:  slog.Default().With("module", "price_feed"),
	}
}

// AttachIntraday makes GetMultiplePrices include each symbol's session series.
// Call before the feed is shared.
func (f *PriceFeed) AttachIntraday(series SeriesSource) {
	f.intraday = series
}

// GetPrice returns the cached quote if still fresh, otherwise fetches one.
// Failures surface as ErrUpstreamUnavailable; no price is ever invented here.
func (f *PriceFeed) GetPrice(ctx context.Context, symbol string) (domain.Quote, error) {
	if q, ok := f.cache.Get(symbol); ok {
		return q, nil
	}

	raw, err := f.source.FetchQuote(ctx, symbol)
	if err != nil {
		if f.metrics != nil {
			f.metrics.RecordUpstreamError()
		}
		if !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = &domain.UpstreamError{Op: "quote", Symbol: symbol, Err: err}
		}
		f.logger.Error("Failed to fetch price", slog.String("symbol", symbol), slog.Any("error", err))
		return domain.Quote{}, err
	}

	q := f.convert(raw)
	f.cache.Set(symbol, q)

	f.logger.Debug("Fetched live price",
		slog.String("symbol", symbol),
		slog.String("price", q.PricePaise.String()))
	return q, nil
}

// convert turns an upstream quote into paise with a small live movement applied.
func (f *PriceFeed) convert(raw domain.UpstreamQuote) domain.Quote {
	price, prev := raw.Price, raw.PreviousClose
	if raw.Currency != "INR" {
		price = price.Mul(f.rate)
		prev = prev.Mul(f.rate)
	}

	move := decimal.NewFromFloat(f.rnd.Uniform(-liveMoveBand, liveMoveBand))
	adjusted := price.Mul(decimal.NewFromInt(1).Add(move))

	pricePaise := quant.PaiseFromRupees(adjusted)
	if pricePaise < 1 {
		pricePaise = 1
	}

	change := adjusted.Sub(prev)
	changePct := decimal.Zero
	if prev.IsPositive() {
		changePct = change.Div(prev).Mul(hundred).Round(2)
	}

	return domain.Quote{
		Symbol:          raw.Symbol,
		PricePaise:      pricePaise,
		TimestampMillis: f.clock.Now().UnixMilli(),
		ChangePaise:     quant.PaiseFromRupees(change),
		ChangePercent:   changePct,
		Currency:        "INR",
		Source:          sourceYahoo,
	}
}

// GetPriceOrFallback never fails: on any fetch error it returns fallback.
func (f *PriceFeed) GetPriceOrFallback(ctx context.Context, symbol string, fallback quant.Paise) quant.Paise {
	q, err := f.GetPrice(ctx, symbol)
	if err == nil {
		return q.PricePaise
	}
	if f.metrics != nil {
		f.metrics.RecordFallbackPrice()
	}
	f.logger.Warn("⚠️ Using fallback price",
		slog.String("symbol", symbol),
		slog.String("fallback", fallback.String()))
	return fallback
}

// GetMultiplePrices fetches symbols concurrently. Symbols that fail are omitted.
// With an attached series source each quote also carries its intraday prices.
func (f *PriceFeed) GetMultiplePrices(ctx context.Context, symbols []string) map[string]domain.Quote {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, maxConcurrentFetches)
	)
	out := make(map[string]domain.Quote, len(symbols))

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			q, err := f.GetPrice(ctx, sym)
			if err != nil {
				return
			}
			if f.intraday != nil {
				q.Intraday = f.intraday.GetIntradaySeries(ctx, sym)
			}
			mu.Lock()
			out[sym] = q
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return out
}

// ClearCache drops every cached quote.
func (f *PriceFeed) ClearCache() {
	f.cache.Clear()
	f.logger.Info("🧹 Price cache cleared")
}

// TTL reports the quote cache window.
func (f *PriceFeed) TTL() time.Duration {
	return f.cache.TTL()
}
