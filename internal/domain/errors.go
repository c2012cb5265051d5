package domain

import (
	"errors"
	"fmt"

	"equity_go/pkg/quant"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrInvalidAmount is returned for non-positive, below-minimum or dust trades.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrUnknownSymbol is returned when a symbol is not in the stock catalog.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrNotFound is returned when an account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrInsufficientFunds is matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNoHoldings is returned when selling a symbol the account holds no position in.
	ErrNoHoldings = errors.New("no holdings")

	// ErrInsufficientTokens is matched by *InsufficientTokensError.
	ErrInsufficientTokens = errors.New("insufficient tokens")

	// ErrUpstreamUnavailable is returned by the price feed. Callers recover with a fallback.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrSettlementUnavailable is returned by the settlement gateway. Recovered by local synthesis.
	ErrSettlementUnavailable = errors.New("settlement unavailable")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// InsufficientFundsError reports the cash available against the amount required.
type InsufficientFundsError struct {
	Available quant.Paise
	Required  quant.Paise
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, required %s", e.Available, e.Required)
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// InsufficientTokensError reports holdings against the quantity a sell needs.
type InsufficientTokensError struct {
	Symbol    string
	Available quant.Wei
	Required  quant.Wei
}

func (e *InsufficientTokensError) Error() string {
	return fmt.Sprintf("insufficient tokens for %s: available %s, required %s",
		e.Symbol, e.Available.Tokens().String(), e.Required.Tokens().String())
}

func (e *InsufficientTokensError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// UpstreamError wraps a failed quote or intraday fetch.
type UpstreamError struct {
	Op     string // "quote", "intraday"
	Symbol string
	Status int // HTTP status, 0 if the request never completed
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Op, e.Symbol, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Symbol, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstreamUnavailable
}

// IsRetriable reports transport failures, throttling and 5xx responses.
func (e *UpstreamError) IsRetriable() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
