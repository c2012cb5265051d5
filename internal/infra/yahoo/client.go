// Package yahoo reads quotes and one-minute intraday closes from the Yahoo
// Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
)

const maxBodyBytes = 4 << 20

// chartResponse is the subset of the chart API we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Client implements domain.QuoteSource over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a chart API client. baseURL is the chart endpoint without the symbol.
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxConnsPerHost = 10
	transport.IdleConnTimeout = 30 * time.Second

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: slog.Default().With("module", "yahoo_client"),
	}
}

// FetchQuote returns the last price and previous close for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.UpstreamQuote, error) {
	resp, err := c.get(ctx, "quote", symbol, "1d")
	if err != nil {
		return domain.UpstreamQuote{}, err
	}

	meta := resp.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return domain.UpstreamQuote{}, &domain.UpstreamError{
			Op: "quote", Symbol: symbol, Status: http.StatusOK,
			Err: errors.New("missing regularMarketPrice"),
		}
	}

	prev := meta.ChartPreviousClose
	if prev <= 0 {
		prev = meta.PreviousClose
	}
	if prev <= 0 {
		prev = meta.RegularMarketPrice
	}

	currency := meta.Currency
	if currency == "" {
		currency = "USD"
	}

	return domain.UpstreamQuote{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(meta.RegularMarketPrice),
		PreviousClose: decimal.NewFromFloat(prev),
		Currency:      currency,
	}, nil
}

// FetchIntraday returns the session's one-minute closes, skipping null points.
// A session with no points is not an error.
func (c *Client) FetchIntraday(ctx context.Context, symbol string) (domain.UpstreamSeries, error) {
	resp, err := c.get(ctx, "intraday", symbol, "1m")
	if err != nil {
		return domain.UpstreamSeries{}, err
	}

	result := resp.Chart.Result[0]
	series := domain.UpstreamSeries{Symbol: symbol, Currency: result.Meta.Currency}
	if series.Currency == "" {
		series.Currency = "USD"
	}
	if len(result.Indicators.Quote) == 0 {
		return series, nil
	}

	closes := result.Indicators.Quote[0].Close
	series.Closes = make([]decimal.Decimal, 0, len(closes))
	for _, p := range closes {
		if p == nil || *p <= 0 {
			continue
		}
		series.Closes = append(series.Closes, decimal.NewFromFloat(*p))
	}
	return series, nil
}

func (c *Client) get(ctx context.Context, op, symbol, interval string) (*chartResponse, error) {
	endpoint := fmt.Sprintf("%s/%s?interval=%s&range=1d", c.baseURL, url.PathEscape(symbol), interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &domain.UpstreamError{Op: op, Symbol: symbol, Err: err}
	}
	// Add browser-like User-Agent to avoid bot detection
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Op: op, Symbol: symbol, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.UpstreamError{
			Op: op, Symbol: symbol, Status: resp.StatusCode,
			Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.UpstreamError{Op: op, Symbol: symbol, Err: err}
	}

	var data chartResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &domain.UpstreamError{Op: op, Symbol: symbol, Status: resp.StatusCode, Err: err}
	}
	if data.Chart.Error != nil {
		return nil, &domain.UpstreamError{
			Op: op, Symbol: symbol, Status: resp.StatusCode,
			Err: fmt.Errorf("%s: %s", data.Chart.Error.Code, data.Chart.Error.Description),
		}
	}
	if len(data.Chart.Result) == 0 {
		return nil, &domain.UpstreamError{
			Op: op, Symbol: symbol, Status: resp.StatusCode,
			Err: errors.New("empty result"),
		}
	}

	c.logger.Debug("Fetched chart", slog.String("op", op), slog.String("symbol", symbol))
	return &data, nil
}
