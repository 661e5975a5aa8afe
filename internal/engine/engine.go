// Package engine wires the six pipeline components into the single
// per-run entry point: signal collection, aggregation, plan construction,
// execution, and per-strategy attribution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/events"
	"github.com/polystrat/polystrat/internal/executor"
	"github.com/polystrat/polystrat/internal/journal"
	"github.com/polystrat/polystrat/internal/planner"
	"github.com/polystrat/polystrat/internal/signals"
	"github.com/polystrat/polystrat/internal/strategies"
	"github.com/polystrat/polystrat/internal/tracker"
)

// PlanExecutor is the slice of the execution engine the pipeline needs
type PlanExecutor interface {
	Execute(ctx context.Context, plan *domain.RebalancePlan) (*executor.ExecutionResult, error)
}

// Deps are the collaborators the engine is built from. Journal and Bus
// are optional: a nil journal skips local journaling, a nil bus skips
// event emission. Everything else is required.
type Deps struct {
	Account    domain.AccountPort
	MarketData domain.MarketDataPort
	Strategies *strategies.Registry
	Aggregator *signals.Aggregator
	Planner    *planner.Planner
	Executor   PlanExecutor
	Tracker    *tracker.Tracker
	Journal    *journal.Journal
	Bus        *events.Bus

	StrategyWeights map[domain.StrategyID]decimal.Decimal

	DataTimeout time.Duration // per port call
	RunDeadline time.Duration // whole-run ceiling
}

// Engine runs the trading pipeline. One instance per process; Run is not
// safe for concurrent invocations because the executor it drives is not.
type Engine struct {
	deps Deps
	log  zerolog.Logger
}

// New creates the trading engine
func New(deps Deps, log zerolog.Logger) *Engine {
	if deps.DataTimeout <= 0 {
		deps.DataTimeout = 30 * time.Second
	}
	if deps.RunDeadline <= 0 {
		deps.RunDeadline = 10 * time.Minute
	}
	return &Engine{
		deps: deps,
		log:  log.With().Str("service", "trading_engine").Logger(),
	}
}

// Run executes one full trading pass. An empty correlationID gets a fresh
// UUID. The returned result is always populated; fatal errors are carried
// in its ErrorCode/ErrorMessage fields, never as a bare error.
func (e *Engine) Run(ctx context.Context, correlationID string) *TradeRunResult {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	result := &TradeRunResult{
		CorrelationID: correlationID,
		CausationID:   correlationID,
		StartedAt:     time.Now().UTC(),
	}
	defer func() {
		result.CompletedAt = time.Now().UTC()
		e.finishRun(result)
	}()

	ctx, cancel := context.WithTimeout(ctx, e.deps.RunDeadline)
	defer cancel()

	log := e.log.With().Str("correlation_id", correlationID).Logger()
	log.Info().Msg("Trading run started")

	// 1. Signals. A failing strategy contributes nothing; the run
	// continues with the remaining strategies.
	result.Signals = e.collectSignals(ctx, result)

	// 2. Consolidated target
	consolidated := e.deps.Aggregator.Aggregate(result.Signals, e.deps.StrategyWeights)
	result.Consolidated = &consolidated

	// 3. Account snapshot with prices for every relevant symbol
	snapshot, err := e.captureSnapshot(ctx, consolidated, result)
	if err != nil {
		result.fail(err)
		return result
	}
	result.PortfolioValue = snapshot.TotalValue

	// 4. Plan
	plan, err := e.deps.Planner.BuildPlan(consolidated, *snapshot, correlationID, result.CausationID)
	if err != nil {
		result.fail(err)
		return result
	}
	result.Plan = plan

	// 5. Execute
	execResult, execErr := e.deps.Executor.Execute(ctx, plan)
	result.Execution = execResult

	// 6. Attribution: every fill is recorded against its strategy even
	// when the run as a whole failed.
	e.recordFills(ctx, correlationID, execResult, result)
	e.archivePnL(ctx, snapshot, result)

	if execErr != nil {
		result.fail(execErr)
		return result
	}
	result.Success = execResult.Success
	if !result.Success && len(execResult.Errors) > 0 {
		result.ErrorCode = domain.CodeOrderRejected
		result.ErrorMessage = execResult.Errors[0]
	}
	return result
}

// collectSignals asks every registered strategy for its signals
func (e *Engine) collectSignals(ctx context.Context, result *TradeRunResult) map[domain.StrategyID][]domain.StrategySignal {
	asOf := time.Now().UTC()
	collected := make(map[domain.StrategyID][]domain.StrategySignal)
	for _, strategy := range e.deps.Strategies.All() {
		sctx, cancel := context.WithTimeout(ctx, e.deps.DataTimeout)
		sigs, err := strategy.GenerateSignals(sctx, asOf, e.deps.MarketData)
		cancel()
		if err != nil {
			warning := fmt.Sprintf("strategy %s failed: %v", strategy.Name(), err)
			result.Warnings = append(result.Warnings, warning)
			e.log.Error().Err(err).Str("strategy", string(strategy.Name())).
				Msg("Strategy signal generation failed, continuing without it")
			continue
		}
		collected[strategy.Name()] = sigs
	}
	return collected
}

// captureSnapshot reads account state and prices for the union of held
// and targeted symbols. A held symbol without a usable price is left to
// the planner, which fails the run on it.
func (e *Engine) captureSnapshot(ctx context.Context, consolidated domain.ConsolidatedPortfolio, result *TradeRunResult) (*domain.PortfolioSnapshot, error) {
	actx, cancel := context.WithTimeout(ctx, e.deps.DataTimeout)
	defer cancel()

	account, err := e.deps.Account.GetAccountSnapshot(actx)
	if err != nil {
		return nil, &domain.BrokerUnavailableError{Cause: err}
	}
	positions, err := e.deps.Account.GetPositions(actx)
	if err != nil {
		return nil, &domain.BrokerUnavailableError{Cause: err}
	}

	snapshot := &domain.PortfolioSnapshot{
		TotalValue: account.TotalValue,
		Cash:       account.Cash,
		Positions:  make(map[string]domain.Position, len(positions)),
		Prices:     make(map[string]decimal.Decimal),
		Margin:     account.Margin,
		CapturedAt: time.Now().UTC(),
	}
	for _, pos := range positions {
		snapshot.Positions[pos.Symbol] = pos
		if pos.CurrentPrice.IsPositive() {
			snapshot.Prices[pos.Symbol] = pos.CurrentPrice
		}
	}

	// Fill price gaps: held symbols the broker returned without a price,
	// plus every target symbol. Target-only price failures are warnings;
	// the executor re-fetches at submission time anyway.
	for _, symbol := range priceSymbols(snapshot, consolidated) {
		if _, ok := snapshot.Prices[symbol]; ok {
			continue
		}
		pctx, pcancel := context.WithTimeout(ctx, e.deps.DataTimeout)
		price, perr := e.deps.MarketData.GetCurrentPrice(pctx, symbol)
		pcancel()
		if perr != nil || !price.IsPositive() {
			if _, held := snapshot.Positions[symbol]; !held {
				result.Warnings = append(result.Warnings, fmt.Sprintf("no price for target symbol %s", symbol))
			}
			continue
		}
		snapshot.Prices[symbol] = price
	}
	return snapshot, nil
}

// recordFills attributes every fill to its strategy and journals it
func (e *Engine) recordFills(ctx context.Context, correlationID string, execResult *executor.ExecutionResult, result *TradeRunResult) {
	if execResult == nil {
		return
	}
	for _, fill := range execResult.FilledOrders {
		if err := e.deps.Tracker.RecordFill(ctx, fill); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("tracker record for %s: %v", fill.OrderID, err))
		}
		if e.deps.Journal != nil {
			if err := e.deps.Journal.RecordFill(ctx, correlationID, fill); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("journal record for %s: %v", fill.OrderID, err))
			}
		}
		if e.deps.Bus != nil {
			e.deps.Bus.Publish("engine", &events.TradeExecutedData{
				OrderID:    fill.OrderID,
				Symbol:     fill.Symbol,
				Side:       fill.Side,
				Quantity:   fill.FilledQty,
				Price:      fill.FilledAvgPrice,
				StrategyID: fill.StrategyID,
			})
		}
	}
}

// archivePnL writes the daily P&L snapshot. Failures never fail the run.
func (e *Engine) archivePnL(ctx context.Context, snapshot *domain.PortfolioSnapshot, result *TradeRunResult) {
	if err := e.deps.Tracker.ArchiveDailyPnL(ctx, snapshot.Prices); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("daily pnl archive: %v", err))
		e.log.Warn().Err(err).Msg("Daily P&L archive failed")
	}
}

// finishRun journals the run record and emits post-run events
func (e *Engine) finishRun(result *TradeRunResult) {
	e.log.Info().
		Str("correlation_id", result.CorrelationID).
		Bool("success", result.Success).
		Int("orders_executed", result.OrdersExecuted()).
		Int("warnings", len(result.Warnings)).
		Str("error_code", string(result.ErrorCode)).
		Msg("Trading run finished")

	if e.deps.Journal != nil {
		rec := journal.RunRecord{
			CorrelationID:  result.CorrelationID,
			StartedAt:      result.StartedAt,
			FinishedAt:     result.CompletedAt,
			Success:        result.Success,
			OrdersExecuted: result.OrdersExecuted(),
			OrdersCanceled: result.OrdersCanceled(),
			ErrorCategory:  string(result.ErrorCode),
			ErrorDetail:    result.ErrorMessage,
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.deps.DataTimeout)
		if err := e.deps.Journal.RecordRun(ctx, rec); err != nil {
			e.log.Warn().Err(err).Msg("Run journaling failed")
		}
		cancel()
	}

	if e.deps.Bus != nil {
		e.deps.Bus.Publish("engine", &events.RunCompletedData{
			CorrelationID:  result.CorrelationID,
			Success:        result.Success,
			OrdersExecuted: result.OrdersExecuted(),
			OrdersCanceled: result.OrdersCanceled(),
			ErrorCategory:  string(result.ErrorCode),
		})
		var limitErr *domain.DailyTradeLimitExceededError
		if errors.As(result.fatal, &limitErr) {
			e.deps.Bus.Publish("engine", &events.DailyLimitTrippedData{
				CorrelationID: result.CorrelationID,
				Attempted:     limitErr.Proposed,
				Cumulative:    limitErr.Cumulative,
				Limit:         limitErr.Limit,
			})
		}
	}
}

// priceSymbols returns the union of held and targeted symbols
func priceSymbols(snapshot *domain.PortfolioSnapshot, consolidated domain.ConsolidatedPortfolio) []string {
	seen := make(map[string]struct{})
	var symbols []string
	for symbol := range snapshot.Positions {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	for symbol := range consolidated.Weights {
		if _, ok := seen[symbol]; !ok {
			seen[symbol] = struct{}{}
			symbols = append(symbols, symbol)
		}
	}
	return symbols
}
