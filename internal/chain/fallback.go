package chain

import (
	"context"
	"log/slog"
	"time"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
)

// FallbackSettler tries the primary settler within a deadline and falls back to
// local synthesis when it is unavailable. The engine never sees the difference
// except through Receipt.Simulated.
type FallbackSettler struct {
	primary domain.Settler // nil = local only
	local   domain.Settler
	timeout time.Duration
	metrics *infra.Metrics
	logger  *slog.Logger
}

var _ domain.Settler = (*FallbackSettler)(nil)

// NewFallbackSettler wires primary and local. primary and metrics may be nil.
func NewFallbackSettler(primary, local domain.Settler, timeout time.Duration, metrics *infra.Metrics) *FallbackSettler {
	return &FallbackSettler{
		primary: primary,
		local:   local,
		timeout: timeout,
		metrics: metrics,
		logger:  slog.Default().With("module", "settlement"),
	}
}

// Submit returns a primary receipt, or a simulated one if the primary fails or times out.
func (f *FallbackSettler) Submit(ctx context.Context, req domain.SubmitRequest) (domain.Receipt, error) {
	if f.primary != nil {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		receipt, err := f.primary.Submit(pctx, req)
		cancel()
		if err == nil {
			return receipt, nil
		}
		f.logger.Warn("⚠️ Settlement degraded, synthesizing receipt",
			slog.String("side", string(req.Side)),
			slog.String("symbol", req.Symbol),
			slog.Any("error", err))
	}

	receipt, err := f.local.Submit(ctx, req)
	if err != nil {
		return domain.Receipt{}, err
	}
	if f.metrics != nil {
		f.metrics.RecordSimulatedReceipt()
	}
	return receipt, nil
}
