package service

import (
	"context"
	"log/slog"
	"math"
	"slices"

	"github.com/shopspring/decimal"

	"equity_go/internal/cache"
	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/clock"
	"equity_go/pkg/quant"
)

const (
	// sessionSeconds is one 6.5 hour trading session.
	sessionSeconds = 23400

	dispersionFreq  = 0.1047 // rad per second, roughly one cycle per minute
	dispersionAmp   = 0.005
	noiseBand       = 0.0005
	emptySeriesBand = 0.0025
)

// IntradaySimulator replays yesterday's minute closes with second-level dispersion
// so prices keep moving while the market is shut.
type IntradaySimulator struct {
	source domain.QuoteSource
	cache  *cache.TTL[[]quant.Paise]
	rate   decimal.Decimal
	clock  clock.Clock
	rnd    *Rand
	logger *slog.Logger
}

// NewIntradaySimulator creates a simulator over source.
func NewIntradaySimulator(source domain.QuoteSource, cfg *infra.Config, clk clock.Clock, rnd *Rand) *IntradaySimulator {
	if clk == nil {
		clk = clock.System{}
	}
	if rnd == nil {
		rnd = NewRand(0)
	}
	return &IntradaySimulator{
		source: source,
		cache:  cache.NewTTL[[]quant.Paise](cfg.IntradayTTL(), clk),
		rate:   cfg.Pricing.USDINRRate,
		clock:  clk,
		rnd:    rnd,
		logger: slog.Default().With("module", "intraday"),
	}
}

// GetIntradaySeries returns one paise point per minute of the last session.
// Upstream failure or an empty session yields an empty series, which is not cached.
// The returned slice belongs to the caller.
func (s *IntradaySimulator) GetIntradaySeries(ctx context.Context, symbol string) []quant.Paise {
	return slices.Clone(s.series(ctx, symbol))
}

// series returns the cached series itself; it must not be modified.
func (s *IntradaySimulator) series(ctx context.Context, symbol string) []quant.Paise {
	if series, ok := s.cache.Get(symbol); ok {
		return series
	}

	raw, err := s.source.FetchIntraday(ctx, symbol)
	if err != nil {
		s.logger.Error("Failed to fetch intraday prices", slog.String("symbol", symbol), slog.Any("error", err))
		return nil
	}
	if len(raw.Closes) == 0 {
		return nil
	}

	series := make([]quant.Paise, 0, len(raw.Closes))
	for _, c := range raw.Closes {
		if raw.Currency != "INR" {
			c = c.Mul(s.rate)
		}
		series = append(series, quant.PaiseFromRupees(c))
	}

	s.cache.Set(symbol, series)
	return series
}

// GetSimulatedPrice returns the replayed price for the current second.
// Display only; the float math never reaches a balance or quantity.
func (s *IntradaySimulator) GetSimulatedPrice(ctx context.Context, symbol string, base quant.Paise) quant.Paise {
	series := s.series(ctx, symbol)
	return s.simulate(series, base, s.clock.Now().Unix())
}

func (s *IntradaySimulator) simulate(series []quant.Paise, base quant.Paise, unix int64) quant.Paise {
	var price float64
	if len(series) == 0 {
		price = float64(base) * (1 + s.rnd.Uniform(-emptySeriesBand, emptySeriesBand))
	} else {
		secondOfSession := unix % sessionSeconds
		if secondOfSession < 0 {
			secondOfSession += sessionSeconds
		}
		index := (secondOfSession / 60) % int64(len(series))
		secondOfMinute := float64(secondOfSession % 60)

		dispersion := math.Sin(secondOfMinute*dispersionFreq) * dispersionAmp
		noise := s.rnd.Uniform(-noiseBand, noiseBand)
		price = float64(series[index]) * (1 + dispersion + noise)
	}

	p := quant.Paise(math.Round(price))
	if p < 1 {
		p = 1
	}
	return p
}
