package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/clock"
	"equity_go/pkg/quant"
)

const (
	// LoopSeconds is the length of one precomputed order-book loop.
	LoopSeconds = 60
	// BookDepth is the number of levels on each side.
	BookDepth = 15

	timeFactorAmp  = 0.0005
	spreadBase     = 0.0001
	spreadStep     = 0.00009
	spreadJitter   = 0.0001
	qtyBase        = 20.0
	qtyStep        = 9.0
	qtyWave        = 10.0
	qtyJitter      = 15.0
	bidClampFactor = 0.9999
)

// bookLoop is immutable once published.
type bookLoop struct {
	base      quant.Paise
	snapshots [LoopSeconds]domain.OrderBookSnapshot
}

// OrderBookSynthesizer serves a synthetic display-only depth ladder that loops every minute
// around the live (or replayed) price.
type OrderBookSynthesizer struct {
	feed     *PriceFeed
	intraday *IntradaySimulator
	catalog  *domain.Catalog

	fallbackBase quant.Paise
	drift        decimal.Decimal

	mu    sync.RWMutex
	loops map[string]*bookLoop

	clock   clock.Clock
	rnd     *Rand
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewOrderBookSynthesizer creates a synthesizer. metrics may be nil.
func NewOrderBookSynthesizer(feed *PriceFeed, intraday *IntradaySimulator, catalog *domain.Catalog,
	cfg *infra.Config, clk clock.Clock, rnd *Rand, metrics *infra.Metrics) *OrderBookSynthesizer {
	if clk == nil {
		clk = clock.System{}
	}
	if rnd == nil {
		rnd = NewRand(cfg.OrderBook.Seed)
	}
	return &OrderBookSynthesizer{
		feed:         feed,
		intraday:     intraday,
		catalog:      catalog,
		fallbackBase: cfg.FallbackPrice(),
		drift:        cfg.OrderBook.DriftThreshold,
		loops:        make(map[string]*bookLoop),
		clock:        clk,
		rnd:          rnd,
		metrics:      metrics,
		logger:       slog.Default().With("module", "orderbook"),
	}
}

// GetOrderBook returns the snapshot for the current second. It never fails:
// any internal error yields an empty book.
func (s *OrderBookSynthesizer) GetOrderBook(ctx context.Context, symbol string) (book domain.OrderBook) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Failed to generate order book",
				slog.String("symbol", symbol),
				slog.Any("error", fmt.Errorf("panic: %v", r)))
			book = s.emptyBook(symbol)
		}
	}()

	upstream, ok := s.upstreamSymbol(symbol)
	if !ok {
		return s.emptyBook(symbol)
	}
	base := s.feed.GetPriceOrFallback(ctx, upstream, s.fallbackBase)
	current := s.intraday.GetSimulatedPrice(ctx, upstream, base)

	loop := s.loopFor(symbol, current)
	now := s.clock.Now()
	snap := loop.snapshots[now.Second()%LoopSeconds]

	// Published loops are shared, callers get their own ladders
	return domain.OrderBook{
		Symbol:     symbol,
		Second:     snap.Second,
		Bids:       slices.Clone(snap.Bids),
		Asks:       slices.Clone(snap.Asks),
		LastUpdate: now.UnixMilli(),
	}
}

// RefreshOrderBookLoop regenerates the loop from the live price unconditionally.
// Symbols outside the catalog are ignored.
func (s *OrderBookSynthesizer) RefreshOrderBookLoop(ctx context.Context, symbol string) {
	upstream, ok := s.upstreamSymbol(symbol)
	if !ok {
		s.logger.Warn("Skipping refresh for unknown symbol", slog.String("symbol", symbol))
		return
	}
	base := s.feed.GetPriceOrFallback(ctx, upstream, s.fallbackBase)
	s.logger.Info("🔄 Refreshing order book loop",
		slog.String("symbol", symbol),
		slog.String("price", base.String()))
	s.store(symbol, s.generate(base))
}

// BestPrices returns the top of book and the spread.
func (s *OrderBookSynthesizer) BestPrices(book domain.OrderBook) (bid, ask, spread quant.Paise) {
	return book.BestPrices()
}

// HasSymbol reports whether symbol is in the catalog.
func (s *OrderBookSynthesizer) HasSymbol(symbol string) bool {
	_, ok := s.upstreamSymbol(symbol)
	return ok
}

// upstreamSymbol maps a catalog symbol to its quote ticker.
func (s *OrderBookSynthesizer) upstreamSymbol(symbol string) (string, bool) {
	if s.catalog == nil {
		return "", false
	}
	st, ok := s.catalog.Lookup(symbol)
	if !ok {
		return "", false
	}
	return st.YahooSymbol, true
}

func (s *OrderBookSynthesizer) emptyBook(symbol string) domain.OrderBook {
	return domain.OrderBook{
		Symbol:     symbol,
		Bids:       []domain.OrderBookLevel{},
		Asks:       []domain.OrderBookLevel{},
		LastUpdate: s.clock.Now().UnixMilli(),
	}
}

// loopFor returns the cached loop, regenerating it when the price has drifted too far.
func (s *OrderBookSynthesizer) loopFor(symbol string, current quant.Paise) *bookLoop {
	s.mu.RLock()
	loop := s.loops[symbol]
	s.mu.RUnlock()

	if loop != nil && !s.drifted(loop.base, current) {
		return loop
	}

	s.logger.Info("📊 Regenerating order book loop",
		slog.String("symbol", symbol),
		slog.String("price", current.String()))
	loop = s.generate(current)
	s.store(symbol, loop)
	return loop
}

func (s *OrderBookSynthesizer) drifted(base, current quant.Paise) bool {
	if base <= 0 {
		return true
	}
	diff := current - base
	if diff < 0 {
		diff = -diff
	}
	return decimal.NewFromInt(int64(diff)).Div(decimal.NewFromInt(int64(base))).GreaterThan(s.drift)
}

func (s *OrderBookSynthesizer) store(symbol string, loop *bookLoop) {
	s.mu.Lock()
	s.loops[symbol] = loop
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordBookRegenerated()
	}
}

func (s *OrderBookSynthesizer) generate(base quant.Paise) *bookLoop {
	loop := &bookLoop{base: base}
	for sec := 0; sec < LoopSeconds; sec++ {
		loop.snapshots[sec] = s.snapshot(sec, base)
	}
	return loop
}

func (s *OrderBookSynthesizer) snapshot(sec int, base quant.Paise) domain.OrderBookSnapshot {
	p := float64(base) * (1 + math.Sin(float64(sec)/10)*timeFactorAmp)

	asks := make([]domain.OrderBookLevel, BookDepth)
	bids := make([]domain.OrderBookLevel, BookDepth)
	for i := 0; i < BookDepth; i++ {
		fi := float64(i)
		spread := spreadBase + fi*spreadStep + s.rnd.Uniform(0, spreadJitter)
		price := roundPaise(p*(1+spread), 2)
		qty := math.Max(1, qtyBase+fi*qtyStep+math.Cos(float64(sec+i)/5)*qtyWave+s.rnd.Uniform(0, qtyJitter))
		asks[i] = newLevel(price, qty)
	}
	sort.Slice(asks, func(a, b int) bool { return asks[a].PricePaise < asks[b].PricePaise })

	bestAsk := asks[0].PricePaise
	ceiling := quant.Paise(math.Floor(float64(bestAsk) * bidClampFactor))
	if ceiling >= bestAsk {
		ceiling = bestAsk - 1
	}

	for i := 0; i < BookDepth; i++ {
		fi := float64(i)
		spread := spreadBase + fi*spreadStep + s.rnd.Uniform(0, spreadJitter)
		price := roundPaise(p*(1-spread), 1)
		if price >= bestAsk {
			price = ceiling
		}
		qty := math.Max(1, qtyBase+fi*qtyStep+math.Sin(float64(sec+i)/5)*qtyWave+s.rnd.Uniform(0, qtyJitter))
		bids[i] = newLevel(price, qty)
	}
	sort.Slice(bids, func(a, b int) bool { return bids[a].PricePaise > bids[b].PricePaise })

	return domain.OrderBookSnapshot{Second: sec, Bids: bids, Asks: asks}
}

// roundPaise rounds to the nearest paisa with a lower bound of min.
func roundPaise(v float64, min quant.Paise) quant.Paise {
	p := quant.Paise(math.Round(v))
	if p < min {
		p = min
	}
	return p
}

func newLevel(price quant.Paise, qty float64) domain.OrderBookLevel {
	q := quant.WeiFromTokens(decimal.NewFromFloat(qty).Round(3))
	return domain.OrderBookLevel{
		PricePaise: price,
		Quantity:   q,
		TotalPaise: quant.AmountForTokens(q, price),
	}
}
