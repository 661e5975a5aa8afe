package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorCode categorizes run failures for the user surface. No stack traces
// reach callers; the TradeRunResult carries code plus a human message.
type ErrorCode string

const (
	CodeConfiguration         ErrorCode = "CONFIGURATION"
	CodeData                  ErrorCode = "DATA"
	CodeInvalidPortfolio      ErrorCode = "INVALID_PORTFOLIO"
	CodeMissingPrice          ErrorCode = "MISSING_PRICE"
	CodeInsufficientCapital   ErrorCode = "INSUFFICIENT_CAPITAL"
	CodeMarginSafety          ErrorCode = "MARGIN_SAFETY"
	CodeInsufficientMarginDat ErrorCode = "INSUFFICIENT_MARGIN_DATA"
	CodeDailyTradeLimit       ErrorCode = "DAILY_TRADE_LIMIT"
	CodeOrderRejected         ErrorCode = "ORDER_REJECTED"
	CodeBrokerUnavailable     ErrorCode = "BROKER_UNAVAILABLE"
	CodeUnknown               ErrorCode = "UNKNOWN"
)

// Coded is implemented by errors that carry an ErrorCode
type Coded interface {
	Code() ErrorCode
}

// ClassifyError maps any error to its ErrorCode, defaulting to UNKNOWN
func ClassifyError(err error) ErrorCode {
	var coded Coded
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeUnknown
}

// InvalidPortfolioError is raised when consolidated weights exceed 1.01
type InvalidPortfolioError struct {
	WeightSum decimal.Decimal
}

func (e *InvalidPortfolioError) Error() string {
	return fmt.Sprintf("invalid portfolio: target weights sum to %s, must not exceed 1.01", e.WeightSum)
}

func (e *InvalidPortfolioError) Code() ErrorCode { return CodeInvalidPortfolio }

// MissingPriceError is raised when a held symbol has no usable price
type MissingPriceError struct {
	Symbol string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("missing price for held symbol %s", e.Symbol)
}

func (e *MissingPriceError) Code() ErrorCode { return CodeMissingPrice }

// InsufficientCapitalError is raised in cash mode when buys exceed
// cash plus sell proceeds
type InsufficientCapitalError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient capital: need %s, have %s (deficit %s)",
		e.Required, e.Available, e.Deficit())
}

func (e *InsufficientCapitalError) Code() ErrorCode { return CodeInsufficientCapital }

// Deficit returns required minus available
func (e *InsufficientCapitalError) Deficit() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// InsufficientMarginDataError is raised when leverage is requested but the
// broker supplied no margin data
type InsufficientMarginDataError struct{}

func (e *InsufficientMarginDataError) Error() string {
	return "leverage requested but margin data is unavailable"
}

func (e *InsufficientMarginDataError) Code() ErrorCode { return CodeInsufficientMarginDat }

// MarginSafetyError is raised when the leverage safety check fails
type MarginSafetyError struct {
	UtilizationPct decimal.Decimal
	CeilingPct     decimal.Decimal
	BufferPct      decimal.Decimal
	FloorPct       decimal.Decimal
	Reason         string
}

func (e *MarginSafetyError) Error() string {
	return fmt.Sprintf("margin safety check failed: %s", e.Reason)
}

func (e *MarginSafetyError) Code() ErrorCode { return CodeMarginSafety }

// DailyTradeLimitExceededError is the circuit-breaker trip. Fatal for
// remaining submissions; already-submitted orders continue to settle.
type DailyTradeLimitExceededError struct {
	Proposed   decimal.Decimal
	Cumulative decimal.Decimal
	Limit      decimal.Decimal
	Headroom   decimal.Decimal
}

func (e *DailyTradeLimitExceededError) Error() string {
	return fmt.Sprintf("daily trade limit exceeded: proposed %s, cumulative %s, limit %s, headroom %s",
		e.Proposed, e.Cumulative, e.Limit, e.Headroom)
}

func (e *DailyTradeLimitExceededError) Code() ErrorCode { return CodeDailyTradeLimit }

// ConfigurationError covers missing credentials and invalid strategy
// configuration, fatal at startup (exit code 3)
type ConfigurationError struct {
	Field  string
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Detail)
}

func (e *ConfigurationError) Code() ErrorCode { return CodeConfiguration }

// BrokerUnavailableError signals complete loss of broker connectivity
type BrokerUnavailableError struct {
	Cause error
}

func (e *BrokerUnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable: %v", e.Cause)
}

func (e *BrokerUnavailableError) Unwrap() error { return e.Cause }

func (e *BrokerUnavailableError) Code() ErrorCode { return CodeBrokerUnavailable }
