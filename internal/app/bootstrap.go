package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"equity_go/internal/chain"
	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/internal/infra/storage"
	"equity_go/internal/infra/stream"
	"equity_go/internal/infra/yahoo"
	"equity_go/internal/service"
	"equity_go/pkg/clock"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Metrics *infra.Metrics
	Catalog *domain.Catalog

	Feed       *service.PriceFeed
	Intraday   *service.IntradaySimulator
	OrderBooks *service.OrderBookSynthesizer
	Engine     *service.SettlementEngine
	Hub        *stream.Hub
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{Metrics: infra.GlobalMetrics}
}

// Initialize performs core system initialization (config, logger, DB, services).
// A missing config file falls back to built-in defaults.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping EquiChain...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if errors.Is(err, domain.ErrConfigNotFound) {
		slog.Warn("⚠️ Config file not found, using defaults", slog.String("path", configPath))
		cfg = infra.DefaultConfig()
		cfg.ApplyEnv()
		err = cfg.Validate()
	}
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Ledger initialized")

	// 4. Pricing
	clk := clock.System{}
	rnd := service.NewRand(cfg.OrderBook.Seed)
	source := yahoo.NewClient(cfg.API.Yahoo.ChartURL, time.Duration(cfg.API.Yahoo.TimeoutMS)*time.Millisecond)

	b.Catalog = domain.NewCatalog(cfg.Stocks)
	b.Feed = service.NewPriceFeed(source, cfg, clk, rnd, b.Metrics)
	b.Intraday = service.NewIntradaySimulator(source, cfg, clk, rnd)
	b.Feed.AttachIntraday(b.Intraday)
	b.OrderBooks = service.NewOrderBookSynthesizer(b.Feed, b.Intraday, b.Catalog, cfg, clk, rnd, b.Metrics)
	slog.Info("✅ Price feed ready", slog.Int("stocks", len(b.Catalog.All())))

	// 5. Settlement
	b.Engine = service.NewSettlementEngine(store, b.Feed, b.Catalog, b.newSettler(), cfg, clk, b.Metrics)
	slog.Info("✅ Settlement engine ready")

	// 6. Order-book stream
	b.Hub = stream.NewHub(b.OrderBooks, time.Duration(cfg.Stream.IntervalMS)*time.Millisecond, b.Metrics)

	return nil
}

func (b *Bootstrap) newSettler() domain.Settler {
	cfg := b.Config
	timeout := time.Duration(cfg.Settlement.TimeoutMS) * time.Millisecond
	local := chain.NewLocalSettler(cfg.Settlement.CustodianAddress, cfg.Settlement.ContractAddress)

	if cfg.Settlement.GatewayURL == "" {
		slog.Info("ℹ️ No settlement gateway configured, receipts are simulated")
		return chain.NewFallbackSettler(nil, local, timeout, b.Metrics)
	}

	breakerCfg := infra.DefaultCircuitBreakerConfig("settlement_gateway")
	breakerCfg.Metrics = b.Metrics
	gateway := chain.NewGatewaySettler(cfg.Settlement.GatewayURL, timeout, infra.NewCircuitBreaker(breakerCfg))
	return chain.NewFallbackSettler(gateway, local, timeout, b.Metrics)
}

// WarmUp fetches every catalog price once and seeds the order-book loops, so the
// first stream clients do not pay for the upstream round trips.
func (b *Bootstrap) WarmUp(ctx context.Context) {
	slog.Info("🔄 Warming price cache...")

	stocks := b.Catalog.All()
	symbols := make([]string, 0, len(stocks))
	for _, s := range stocks {
		symbols = append(symbols, s.YahooSymbol)
	}

	quotes := b.Feed.GetMultiplePrices(ctx, symbols)
	for _, s := range stocks {
		if ctx.Err() != nil {
			return
		}
		if _, ok := quotes[s.YahooSymbol]; ok {
			b.OrderBooks.RefreshOrderBookLoop(ctx, s.Symbol)
		}
	}

	slog.Info("✨ Price warm-up completed",
		slog.Int("priced", len(quotes)),
		slog.Int("total", len(stocks)))
}

// Close releases resources held by the bootstrap.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close ledger", slog.Any("error", err))
		}
	}
}
