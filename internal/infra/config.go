package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"equity_go/internal/domain"
	"equity_go/pkg/quant"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	// DefaultChartURL is the Yahoo Finance chart API (free, no key needed).
	DefaultChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

	// DefaultCustodianAddress is the backend wallet that signs every trade.
	DefaultCustodianAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	// DefaultMarketContract is the market contract trades are sent to.
	DefaultMarketContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

// Config holds every application setting. Loaded from YAML, then overridden by EQUI_* env vars.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Yahoo struct {
			ChartURL  string `yaml:"chart_url"`
			TimeoutMS int    `yaml:"timeout_ms"`
		} `yaml:"yahoo"`
	} `yaml:"api"`

	Pricing struct {
		QuoteTTLMS     int             `yaml:"quote_ttl_ms"`
		IntradayTTLMin int             `yaml:"intraday_ttl_min"`
		USDINRRate     decimal.Decimal `yaml:"usd_inr_rate"`
	} `yaml:"pricing"`

	OrderBook struct {
		DriftThreshold decimal.Decimal `yaml:"drift_threshold"`
		Seed           uint64          `yaml:"seed"` // 0 = seed from time
	} `yaml:"orderbook"`

	Trading struct {
		MinAmountPaise       int64 `yaml:"min_amount_paise"`
		MinTokenWei          int64 `yaml:"min_token_wei"`
		FallbackPricePaise   int64 `yaml:"fallback_price_paise"`
		StartingBalancePaise int64 `yaml:"starting_balance_paise"`
	} `yaml:"trading"`

	Settlement struct {
		GatewayURL       string `yaml:"gateway_url"` // empty = local synthesis only
		TimeoutMS        int    `yaml:"timeout_ms"`
		CustodianAddress string `yaml:"custodian_address"`
		ContractAddress  string `yaml:"contract_address"`
	} `yaml:"settlement"`

	Storage struct {
		Path string `yaml:"path"` // empty = OS config dir
	} `yaml:"storage"`

	Stream struct {
		Addr       string `yaml:"addr"` // empty = disabled
		IntervalMS int    `yaml:"interval_ms"`
	} `yaml:"stream"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Stocks []domain.Stock `yaml:"stocks"`
}

// DefaultConfig returns a configuration that runs without any file.
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadConfig reads a YAML file, applies defaults and env overrides, then validates.
// A .env file in the working directory is loaded first if present.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &domain.ConfigError{Field: path, Err: domain.ErrConfigNotFound}
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &domain.ConfigError{Field: path, Err: err}
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyEnv applies EQUI_* overrides to an already built configuration.
func (c *Config) ApplyEnv() {
	overrideWithEnv(c)
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "EquiChain"
	}
	if c.API.Yahoo.ChartURL == "" {
		c.API.Yahoo.ChartURL = DefaultChartURL
	}
	if c.API.Yahoo.TimeoutMS == 0 {
		c.API.Yahoo.TimeoutMS = 5000
	}
	if c.Pricing.QuoteTTLMS == 0 {
		c.Pricing.QuoteTTLMS = 2000
	}
	if c.Pricing.IntradayTTLMin == 0 {
		c.Pricing.IntradayTTLMin = 30
	}
	if c.Pricing.USDINRRate.IsZero() {
		c.Pricing.USDINRRate = decimal.NewFromInt(83)
	}
	if c.OrderBook.DriftThreshold.IsZero() {
		c.OrderBook.DriftThreshold = decimal.RequireFromString("0.01")
	}
	if c.Trading.MinAmountPaise == 0 {
		c.Trading.MinAmountPaise = 1
	}
	if c.Trading.MinTokenWei == 0 {
		c.Trading.MinTokenWei = 1
	}
	if c.Trading.FallbackPricePaise == 0 {
		c.Trading.FallbackPricePaise = 10_000_000
	}
	if c.Trading.StartingBalancePaise == 0 {
		c.Trading.StartingBalancePaise = int64(domain.DefaultStartingBalance)
	}
	if c.Settlement.TimeoutMS == 0 {
		c.Settlement.TimeoutMS = 1500
	}
	if c.Settlement.CustodianAddress == "" {
		c.Settlement.CustodianAddress = DefaultCustodianAddress
	}
	if c.Settlement.ContractAddress == "" {
		c.Settlement.ContractAddress = DefaultMarketContract
	}
	if c.Stream.IntervalMS == 0 {
		c.Stream.IntervalMS = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if len(c.Stocks) == 0 {
		c.Stocks = domain.DefaultStocks()
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !hasPrefix(c.API.Yahoo.ChartURL, "http://") && !hasPrefix(c.API.Yahoo.ChartURL, "https://") {
		return &domain.ConfigError{Field: "api.yahoo.chart_url", Err: fmt.Errorf("invalid URL: %s", c.API.Yahoo.ChartURL)}
	}
	if c.Pricing.QuoteTTLMS < 0 || c.Pricing.IntradayTTLMin < 0 {
		return &domain.ConfigError{Field: "pricing", Err: errors.New("cache windows must not be negative")}
	}
	if !c.Pricing.USDINRRate.IsPositive() {
		return &domain.ConfigError{Field: "pricing.usd_inr_rate", Err: errors.New("rate must be positive")}
	}
	if !c.OrderBook.DriftThreshold.IsPositive() {
		return &domain.ConfigError{Field: "orderbook.drift_threshold", Err: errors.New("threshold must be positive")}
	}
	if c.Trading.MinAmountPaise < 1 {
		return &domain.ConfigError{Field: "trading.min_amount_paise", Err: errors.New("minimum must be at least 1 paisa")}
	}
	if c.Trading.MinTokenWei < 1 {
		return &domain.ConfigError{Field: "trading.min_token_wei", Err: errors.New("minimum must be at least 1 unit")}
	}
	if c.Trading.FallbackPricePaise <= 0 {
		return &domain.ConfigError{Field: "trading.fallback_price_paise", Err: errors.New("fallback price must be positive")}
	}
	if c.Trading.StartingBalancePaise < 0 {
		return &domain.ConfigError{Field: "trading.starting_balance_paise", Err: errors.New("starting balance must not be negative")}
	}
	if c.Settlement.GatewayURL != "" && !hasPrefix(c.Settlement.GatewayURL, "http://") && !hasPrefix(c.Settlement.GatewayURL, "https://") {
		return &domain.ConfigError{Field: "settlement.gateway_url", Err: fmt.Errorf("invalid URL: %s", c.Settlement.GatewayURL)}
	}
	if c.Settlement.TimeoutMS <= 0 {
		return &domain.ConfigError{Field: "settlement.timeout_ms", Err: errors.New("timeout must be positive")}
	}
	if c.Stream.IntervalMS <= 0 {
		return &domain.ConfigError{Field: "stream.interval_ms", Err: errors.New("interval must be positive")}
	}
	return nil
}

// QuoteTTL is the live quote cache window.
func (c *Config) QuoteTTL() time.Duration {
	return time.Duration(c.Pricing.QuoteTTLMS) * time.Millisecond
}

// IntradayTTL is the intraday series cache window.
func (c *Config) IntradayTTL() time.Duration {
	return time.Duration(c.Pricing.IntradayTTLMin) * time.Minute
}

// FallbackPrice is the per-token price used when the feed is unavailable.
func (c *Config) FallbackPrice() quant.Paise {
	return quant.Paise(c.Trading.FallbackPricePaise)
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("EQUI_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("EQUI_SETTLEMENT_URL"); v != "" {
		cfg.Settlement.GatewayURL = v
	}
	if v := os.Getenv("EQUI_CUSTODIAN_ADDRESS"); v != "" {
		cfg.Settlement.CustodianAddress = v
	}
	if v := os.Getenv("EQUI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EQUI_STREAM_ADDR"); v != "" {
		cfg.Stream.Addr = v
	}
	if v := os.Getenv("EQUI_FALLBACK_PRICE_PAISE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Trading.FallbackPricePaise = n
		}
	}
}
