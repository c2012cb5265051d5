package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"equity_go/internal/domain"
	"equity_go/internal/infra"
	"equity_go/pkg/quant"
)

func newTestFeed(src *fakeSource) (*PriceFeed, *infra.Metrics) {
	m := &infra.Metrics{}
	return NewPriceFeed(src, testConfig(), testClock(), NewRand(7), m), m
}

func TestPriceFeed_CachesWithinWindow(t *testing.T) {
	src := newFakeSource(135000)
	clk := testClock()
	feed := NewPriceFeed(src, testConfig(), clk, NewRand(7), nil)
	ctx := context.Background()

	first, err := feed.GetPrice(ctx, "MRF.NS")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}

	clk.Advance(1999 * time.Millisecond)
	second, err := feed.GetPrice(ctx, "MRF.NS")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if second.TimestampMillis != first.TimestampMillis || second.PricePaise != first.PricePaise {
		t.Errorf("Expected cached quote inside TTL, got %+v vs %+v", second, first)
	}
	if q, _ := src.calls(); q != 1 {
		t.Errorf("Expected 1 upstream call, got %d", q)
	}

	clk.Advance(time.Millisecond)
	third, err := feed.GetPrice(ctx, "MRF.NS")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}
	if third.TimestampMillis == first.TimestampMillis {
		t.Error("Expected a fresh quote once the window elapsed")
	}
	if q, _ := src.calls(); q != 2 {
		t.Errorf("Expected 2 upstream calls, got %d", q)
	}
}

func TestPriceFeed_ConvertsAndPerturbs(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		rupees   int64
		want     quant.Paise
	}{
		{"inr passthrough", "INR", 135000, 13_500_000},
		{"usd converted at 83", "USD", 10, 83_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(tt.rupees)
			src.currency = tt.currency
			feed, _ := newTestFeed(src)

			for i := 0; i < 200; i++ {
				q, err := feed.GetPrice(context.Background(), "X")
				if err != nil {
					t.Fatalf("GetPrice failed: %v", err)
				}
				if q.Currency != "INR" {
					t.Fatalf("Currency = %s, want INR", q.Currency)
				}
				if !within(q.PricePaise, tt.want, 0.001) {
					t.Fatalf("Price %d outside ±0.1%% of %d", q.PricePaise, tt.want)
				}
				feed.ClearCache()
			}
		})
	}
}

func TestPriceFeed_ChangeAgainstPreviousClose(t *testing.T) {
	src := newFakeSource(110)
	src.prevClose = decimal.NewFromInt(100)
	feed, _ := newTestFeed(src)

	q, err := feed.GetPrice(context.Background(), "X")
	if err != nil {
		t.Fatalf("GetPrice failed: %v", err)
	}

	// 110 vs 100 is +10%, moved by at most ±0.1% of price.
	if q.ChangePaise < 989 || q.ChangePaise > 1011 {
		t.Errorf("ChangePaise = %d, want ~1000", q.ChangePaise)
	}
	pct, _ := q.ChangePercent.Float64()
	if pct < 9.88 || pct > 10.12 {
		t.Errorf("ChangePercent = %s, want ~10", q.ChangePercent)
	}
	if q.ChangePercent.Exponent() < -2 {
		t.Errorf("ChangePercent %s has more than 2 decimals", q.ChangePercent)
	}
}

func TestPriceFeed_UpstreamFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"typed upstream error", &domain.UpstreamError{Op: "quote", Symbol: "X", Status: 503, Err: errBoom}},
		{"plain error is wrapped", errBoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource(100)
			src.failWith("X", tt.err)
			feed, m := newTestFeed(src)

			_, err := feed.GetPrice(context.Background(), "X")
			if !errors.Is(err, domain.ErrUpstreamUnavailable) {
				t.Fatalf("Expected ErrUpstreamUnavailable, got %v", err)
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("Expected cause to be preserved, got %v", err)
			}
			if m.Snapshot().UpstreamErrors != 1 {
				t.Errorf("Expected 1 upstream error recorded")
			}
		})
	}
}

func TestPriceFeed_GetPriceOrFallback(t *testing.T) {
	src := newFakeSource(100)
	src.failWith("DOWN", errBoom)
	feed, m := newTestFeed(src)
	ctx := context.Background()

	if got := feed.GetPriceOrFallback(ctx, "DOWN", 10_000_000); got != 10_000_000 {
		t.Errorf("Expected fallback 10000000, got %d", got)
	}
	if m.Snapshot().FallbackPrices != 1 {
		t.Error("Expected fallback to be recorded")
	}

	if got := feed.GetPriceOrFallback(ctx, "UP", 10_000_000); !within(got, 10_000, 0.001) {
		t.Errorf("Expected live price ~10000, got %d", got)
	}
}

func TestPriceFeed_GetMultiplePrices(t *testing.T) {
	src := newFakeSource(100)
	src.failWith("BAD", errBoom)
	feed, _ := newTestFeed(src)

	symbols := []string{"A", "B", "BAD", "C", "D", "E", "F"}
	got := feed.GetMultiplePrices(context.Background(), symbols)

	if len(got) != 6 {
		t.Fatalf("Expected 6 quotes, got %d", len(got))
	}
	if _, ok := got["BAD"]; ok {
		t.Error("Failed symbol should be omitted")
	}
	for sym, q := range got {
		if q.PricePaise <= 0 {
			t.Errorf("%s: non-positive price %d", sym, q.PricePaise)
		}
	}
}

func TestPriceFeed_GetMultiplePricesAttachesIntraday(t *testing.T) {
	src := newFakeSource(100)
	src.closes = closes(99, 101)
	feed, _ := newTestFeed(src)
	feed.AttachIntraday(NewIntradaySimulator(src, testConfig(), testClock(), NewRand(1)))
	ctx := context.Background()

	got := feed.GetMultiplePrices(ctx, []string{"A", "B"})

	for _, sym := range []string{"A", "B"} {
		want := []quant.Paise{9_900, 10_100}
		q := got[sym]
		if len(q.Intraday) != len(want) || q.Intraday[0] != want[0] || q.Intraday[1] != want[1] {
			t.Errorf("%s: intraday = %v, want %v", sym, q.Intraday, want)
		}
	}

	// The cached quote stays series-free
	q, err := feed.GetPrice(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if q.Intraday != nil {
		t.Errorf("Expected cached quote without series, got %v", q.Intraday)
	}
}

func TestPriceFeed_ClearCache(t *testing.T) {
	src := newFakeSource(100)
	feed, _ := newTestFeed(src)
	ctx := context.Background()

	if _, err := feed.GetPrice(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	feed.ClearCache()
	if _, err := feed.GetPrice(ctx, "X"); err != nil {
		t.Fatal(err)
	}
	if q, _ := src.calls(); q != 2 {
		t.Errorf("Expected refetch after ClearCache, got %d calls", q)
	}
	if feed.TTL() != 2*time.Second {
		t.Errorf("TTL = %v, want 2s", feed.TTL())
	}
}
