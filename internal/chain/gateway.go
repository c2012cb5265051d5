package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/quant"
)

// submitPayload is the gateway request body. Amounts travel as integer strings.
type submitPayload struct {
	Side     domain.Side `json:"side"`
	Symbol   string      `json:"symbol"`
	From     string      `json:"from"`
	Amount   int64       `json:"amount_paise,omitempty"`
	Quantity *quant.Wei  `json:"quantity,omitempty"`
}

type receiptPayload struct {
	Hash        string `json:"transactionHash"`
	BlockNumber uint64 `json:"blockNumber"`
	GasUsed     uint64 `json:"gasUsed"`
	GasPrice    uint64 `json:"gasPrice"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// GatewaySettler posts trades to a remote settlement gateway behind a circuit breaker.
type GatewaySettler struct {
	url        string
	httpClient *http.Client
	breaker    *infra.CircuitBreaker
	logger     *slog.Logger
}

var _ domain.Settler = (*GatewaySettler)(nil)

// NewGatewaySettler creates a gateway client. breaker may be nil.
func NewGatewaySettler(url string, timeout time.Duration, breaker *infra.CircuitBreaker) *GatewaySettler {
	return &GatewaySettler{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     slog.Default().With("module", "settlement_gateway"),
	}
}

// Submit returns the gateway's receipt. Every failure wraps domain.ErrSettlementUnavailable.
func (g *GatewaySettler) Submit(ctx context.Context, req domain.SubmitRequest) (domain.Receipt, error) {
	if g.breaker != nil && !g.breaker.Allow() {
		return domain.Receipt{}, fmt.Errorf("%w: circuit open", domain.ErrSettlementUnavailable)
	}

	receipt, err := g.submit(ctx, req)
	if g.breaker != nil {
		if err != nil {
			g.breaker.RecordFailure()
		} else {
			g.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrSettlementUnavailable, err)
	}
	return receipt, nil
}

func (g *GatewaySettler) submit(ctx context.Context, req domain.SubmitRequest) (domain.Receipt, error) {
	payload := submitPayload{Side: req.Side, Symbol: req.Symbol, From: req.From}
	if req.Side == domain.SideBuy {
		payload.Amount = int64(req.Amount)
	} else {
		qty := req.Quantity
		payload.Quantity = &qty
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Receipt{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return domain.Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return domain.Receipt{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return domain.Receipt{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var rp receiptPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rp); err != nil {
		return domain.Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	if rp.Hash == "" {
		return domain.Receipt{}, fmt.Errorf("receipt without transaction hash")
	}

	g.logger.Debug("Trade settled on gateway",
		slog.String("symbol", req.Symbol),
		slog.String("tx", rp.Hash),
		slog.Uint64("block", rp.BlockNumber))

	return domain.Receipt{
		Hash:        rp.Hash,
		BlockNumber: rp.BlockNumber,
		GasUsed:     rp.GasUsed,
		GasPrice:    rp.GasPrice,
		From:        rp.From,
		To:          rp.To,
	}, nil
}
