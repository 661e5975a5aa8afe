package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/executor"
)

// CLI exit codes
const (
	ExitOK            = 0
	ExitFatal         = 1
	ExitLimitTripped  = 2
	ExitConfiguration = 3
)

// TradeRunResult is the serializable outcome of one trading run
type TradeRunResult struct {
	Success       bool      `json:"success"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`

	Signals        map[domain.StrategyID][]domain.StrategySignal `json:"signals"`
	Consolidated   *domain.ConsolidatedPortfolio                 `json:"consolidated_portfolio,omitempty"`
	Plan           *domain.RebalancePlan                         `json:"rebalance_plan,omitempty"`
	Execution      *executor.ExecutionResult                     `json:"execution,omitempty"`
	PortfolioValue decimal.Decimal                               `json:"portfolio_value"`

	Warnings     []string         `json:"warnings,omitempty"`
	ErrorCode    domain.ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`

	// fatal keeps the typed error for post-run event emission; the user
	// surface only ever sees code + message.
	fatal error
}

// fail marks the run failed with the error's category and message
func (r *TradeRunResult) fail(err error) {
	r.Success = false
	r.fatal = err
	r.ErrorCode = domain.ClassifyError(err)
	r.ErrorMessage = err.Error()
}

// OrdersExecuted counts confirmed fills
func (r *TradeRunResult) OrdersExecuted() int {
	if r.Execution == nil {
		return 0
	}
	return len(r.Execution.FilledOrders)
}

// OrdersCanceled counts stale orders canceled before submission
func (r *TradeRunResult) OrdersCanceled() int {
	if r.Execution == nil {
		return 0
	}
	return r.Execution.OrdersCanceled
}

// ExitCode maps the run outcome to the process exit code: 0 success
// (including no-trade runs), 2 circuit-breaker trip, 3 configuration
// error, 1 any other fatal error.
func (r *TradeRunResult) ExitCode() int {
	if r.Success {
		return ExitOK
	}
	switch r.ErrorCode {
	case domain.CodeDailyTradeLimit:
		return ExitLimitTripped
	case domain.CodeConfiguration:
		return ExitConfiguration
	default:
		return ExitFatal
	}
}
