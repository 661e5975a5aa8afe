// Package executor turns rebalance plan items into broker orders with
// smart limit pricing, sell-then-buy phasing, settlement waits, and a
// daily trade-value circuit breaker.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// Marketable-limit symbols: fast movers where opportunity cost beats
// small slippage.
var leveragedETFs = map[string]struct{}{
	"TQQQ": {}, "SQQQ": {}, "TECL": {}, "TECS": {}, "SOXL": {}, "SOXS": {},
	"UPRO": {}, "SPXU": {}, "SPXL": {}, "UDOW": {}, "TMF": {}, "TMV": {},
	"UVXY": {}, "LABU": {}, "LABD": {},
}

// Outcome labels for per-item reporting
const (
	OutcomeSubmitted     = "submitted"
	OutcomeLiquidated    = "liquidated"
	OutcomeSkipped       = "skipped"
	OutcomeRoundedToZero = "rounded_to_zero"
	OutcomeFailed        = "failed"
)

// ItemOutcome records what happened to a single plan item
type ItemOutcome struct {
	Symbol  string             `json:"symbol"`
	Action  domain.TradeAction `json:"action"`
	Status  string             `json:"status"`
	OrderID string             `json:"order_id,omitempty"`
	Detail  string             `json:"detail,omitempty"`
}

// ExecutionResult is the executor's report for one plan
type ExecutionResult struct {
	PlanID         string               `json:"plan_id"`
	CorrelationID  string               `json:"correlation_id"`
	Success        bool                 `json:"success"`
	OrdersCanceled int                  `json:"orders_canceled"`
	FilledOrders   []domain.FilledOrder `json:"filled_orders"`
	Outcomes       []ItemOutcome        `json:"outcomes"`
	Errors         []string             `json:"errors,omitempty"`
	Quality        QualityReport        `json:"quality"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
}

// Config carries the executor's order-shaping knobs
type Config struct {
	TimeInForce   domain.TimeInForce
	ExtendedHours bool
	Retry         RetryPolicy
}

// Executor submits plan items to the broker. One instance per process;
// Execute is not safe for concurrent plans.
type Executor struct {
	account    domain.AccountPort
	marketData domain.MarketDataPort
	pricer     *SmartPricer
	limiter    *DailyTradeLimit
	waiter     *SettlementWaiter
	quality    *QualityTracker
	cfg        Config
	log        zerolog.Logger
}

// NewExecutor wires an execution engine from its collaborators
func NewExecutor(
	account domain.AccountPort,
	marketData domain.MarketDataPort,
	pricer *SmartPricer,
	limiter *DailyTradeLimit,
	waiter *SettlementWaiter,
	cfg Config,
	log zerolog.Logger,
) *Executor {
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = domain.TIFDay
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Executor{
		account:    account,
		marketData: marketData,
		pricer:     pricer,
		limiter:    limiter,
		waiter:     waiter,
		quality:    NewQualityTracker(),
		cfg:        cfg,
		log:        log.With().Str("service", "execution_engine").Logger(),
	}
}

// submission ties a broker order back to its plan item and decision mid
type submission struct {
	item    domain.RebalancePlanItem
	orderID string
	mid     decimal.Decimal
}

// Execute runs the plan: cancel stale orders, SELL phase, snapshot
// refresh, sequential BUY phase, settlement waits, fill collection.
// A returned error is fatal for the run; the result is always populated
// with whatever happened before the failure.
func (e *Executor) Execute(ctx context.Context, plan *domain.RebalancePlan) (*ExecutionResult, error) {
	result := &ExecutionResult{
		PlanID:        plan.PlanID,
		CorrelationID: plan.CorrelationID,
		StartedAt:     time.Now().UTC(),
	}
	defer func() {
		result.FinishedAt = time.Now().UTC()
		result.Quality = e.quality.Report()
	}()

	result.OrdersCanceled = e.cancelStaleOrders(ctx, plan)

	// Phase A: SELLs in plan order, then settle so proceeds are usable
	sells, fatalErr := e.submitPhase(ctx, plan.Sells(), plan.ExecutionUrgency, result)
	e.settleAndCollect(ctx, sells, result)
	if fatalErr != nil {
		result.Success = false
		return result, fatalErr
	}

	buyItems := plan.Buys()
	if len(buyItems) == 0 {
		result.Success = !hasFailures(result)
		e.logResult(result)
		return result, nil
	}

	snapshot, err := e.account.GetAccountSnapshot(ctx)
	if err != nil {
		result.Success = false
		result.Errors = append(result.Errors, fmt.Sprintf("snapshot refresh: %v", err))
		return result, &domain.BrokerUnavailableError{Cause: err}
	}

	// Phase B: BUYs strictly sequential, each settled before the next so
	// buying power and the circuit breaker see real fills, never estimates.
	if fatalErr := e.runBuyPhase(ctx, buyItems, plan.ExecutionUrgency, snapshot, result); fatalErr != nil {
		result.Success = false
		return result, fatalErr
	}

	result.Success = !hasFailures(result)
	e.logResult(result)
	return result, nil
}

// cancelStaleOrders cancels open orders on symbols the plan touches
func (e *Executor) cancelStaleOrders(ctx context.Context, plan *domain.RebalancePlan) int {
	open, err := e.account.GetOpenOrders(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Could not list open orders, skipping stale-order cancel")
		return 0
	}
	planSymbols := make(map[string]struct{}, len(plan.Items))
	for _, s := range plan.Symbols() {
		planSymbols[s] = struct{}{}
	}

	canceled := 0
	for _, order := range open {
		if _, ok := planSymbols[order.Symbol]; !ok {
			continue
		}
		ok, err := e.account.CancelOrder(ctx, order.ID)
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", order.ID).Str("symbol", order.Symbol).
				Msg("Stale order cancel failed")
			continue
		}
		if ok {
			canceled++
			e.log.Info().Str("order_id", order.ID).Str("symbol", order.Symbol).
				Msg("Canceled stale open order")
		}
	}
	return canceled
}

// submitPhase submits items in plan order. A circuit-breaker trip stops
// further submissions and is returned as fatal; everything already
// submitted is left for the settlement wait.
func (e *Executor) submitPhase(ctx context.Context, items []domain.RebalancePlanItem, urgency domain.Urgency, result *ExecutionResult) ([]submission, error) {
	var subs []submission
	for _, item := range items {
		sub, err := e.submitItem(ctx, item, urgency, result)
		if err != nil {
			var limitErr *domain.DailyTradeLimitExceededError
			if errors.As(err, &limitErr) {
				result.Errors = append(result.Errors, err.Error())
				return subs, err
			}
			// per-item failure: recorded, run continues
			result.Outcomes = append(result.Outcomes, ItemOutcome{
				Symbol: item.Symbol, Action: item.Action, Status: OutcomeFailed, Detail: err.Error(),
			})
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", item.Action, item.Symbol, err))
			continue
		}
		if sub != nil {
			subs = append(subs, *sub)
		}
	}
	return subs, nil
}

// runBuyPhase is the sequential BUY phase with per-order buying-power
// checks. Discovering insufficient capital mid-phase skips the remaining
// BUYs and marks the run unsuccessful without being fatal.
func (e *Executor) runBuyPhase(ctx context.Context, items []domain.RebalancePlanItem, urgency domain.Urgency, snapshot *domain.AccountSnapshot, result *ExecutionResult) error {
	available := availableCapital(snapshot)
	for i, item := range items {
		if item.TradeAmount.GreaterThan(available.Add(decimal.RequireFromString("0.01"))) {
			e.log.Warn().
				Str("symbol", item.Symbol).
				Str("needed", item.TradeAmount.String()).
				Str("available", available.String()).
				Int("buys_skipped", len(items)-i).
				Msg("Insufficient buying power mid-phase, skipping remaining BUYs")
			for _, skipped := range items[i:] {
				result.Outcomes = append(result.Outcomes, ItemOutcome{
					Symbol: skipped.Symbol, Action: skipped.Action,
					Status: OutcomeSkipped, Detail: "insufficient_buying_power",
				})
			}
			result.Errors = append(result.Errors, "insufficient buying power, remaining BUYs skipped")
			return nil
		}

		sub, err := e.submitItem(ctx, item, urgency, result)
		if err != nil {
			var limitErr *domain.DailyTradeLimitExceededError
			if errors.As(err, &limitErr) {
				result.Errors = append(result.Errors, err.Error())
				return err
			}
			result.Outcomes = append(result.Outcomes, ItemOutcome{
				Symbol: item.Symbol, Action: item.Action, Status: OutcomeFailed, Detail: err.Error(),
			})
			result.Errors = append(result.Errors, fmt.Sprintf("BUY %s: %v", item.Symbol, err))
			continue
		}
		if sub != nil {
			e.settleAndCollect(ctx, []submission{*sub}, result)
		}

		if refreshed, rErr := e.account.GetAccountSnapshot(ctx); rErr == nil {
			available = availableCapital(refreshed)
		} else {
			// fall back to local accounting until the next refresh succeeds
			available = available.Sub(item.TradeAmount)
			e.log.Warn().Err(rErr).Msg("Buying-power refresh failed, using local estimate")
		}
	}
	return nil
}

// submitItem sizes, prices, and submits one plan item. A nil submission
// with nil error means the item was skipped (recorded in the result).
func (e *Executor) submitItem(ctx context.Context, item domain.RebalancePlanItem, urgency domain.Urgency, result *ExecutionResult) (*submission, error) {
	if item.Action == domain.TradeHold {
		return nil, nil
	}
	if err := e.limiter.AssertWithinLimit(item.TradeAmount.Abs()); err != nil {
		return nil, err
	}

	// Full liquidation goes through the broker primitive
	if item.Action == domain.TradeSell && item.TargetValue.IsZero() {
		var orderID string
		err := Retry(ctx, e.cfg.Retry, func() error {
			var sErr error
			orderID, sErr = e.account.LiquidatePosition(ctx, item.Symbol)
			return sErr
		})
		if err != nil {
			return nil, err
		}
		result.Outcomes = append(result.Outcomes, ItemOutcome{
			Symbol: item.Symbol, Action: item.Action, Status: OutcomeLiquidated, OrderID: orderID,
		})
		e.log.Info().Str("symbol", item.Symbol).Str("order_id", orderID).Msg("Position liquidation submitted")
		return &submission{item: item, orderID: orderID}, nil
	}

	price, err := e.marketData.GetCurrentPrice(ctx, item.Symbol)
	if err != nil {
		return nil, fmt.Errorf("price unavailable for %s: %w", item.Symbol, err)
	}
	if !price.IsPositive() {
		return nil, &domain.MissingPriceError{Symbol: item.Symbol}
	}
	fractionable, err := e.marketData.IsFractionable(ctx, item.Symbol)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", item.Symbol).Msg("Fractionability lookup failed, assuming whole shares")
		fractionable = false
	}

	req, mid, skip := e.buildRequest(ctx, item, urgency, price, fractionable)
	if skip != "" {
		result.Outcomes = append(result.Outcomes, ItemOutcome{
			Symbol: item.Symbol, Action: item.Action, Status: OutcomeRoundedToZero, Detail: skip,
		})
		e.log.Warn().Str("symbol", item.Symbol).Str("trade_amount", item.TradeAmount.String()).
			Msg("Quantity rounded to zero, skipping item")
		return nil, nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var orderID string
	err = Retry(ctx, e.cfg.Retry, func() error {
		var sErr error
		orderID, sErr = e.account.SubmitOrder(ctx, req)
		return sErr
	})
	if err != nil {
		return nil, err
	}

	result.Outcomes = append(result.Outcomes, ItemOutcome{
		Symbol: item.Symbol, Action: item.Action, Status: OutcomeSubmitted, OrderID: orderID,
	})
	e.log.Info().
		Str("symbol", item.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Str("order_id", orderID).
		Str("trade_amount", item.TradeAmount.String()).
		Msg("Order submitted")
	return &submission{item: item, orderID: orderID, mid: mid}, nil
}

// buildRequest decides order type, size, and price for one item.
// A non-empty skip reason means the item must not be submitted.
func (e *Executor) buildRequest(ctx context.Context, item domain.RebalancePlanItem, urgency domain.Urgency, price decimal.Decimal, fractionable bool) (req domain.OrderRequest, mid decimal.Decimal, skip string) {
	side := domain.SideBuy
	if item.Action == domain.TradeSell {
		side = domain.SideSell
	}
	amount := item.TradeAmount.Abs()

	req = domain.OrderRequest{
		Symbol:        item.Symbol,
		Side:          side,
		TimeInForce:   e.cfg.TimeInForce,
		ExtendedHours: e.cfg.ExtendedHours,
	}

	// Non-fractionable BUYs become notional market orders so the broker
	// computes whole shares from the dollar amount.
	if side == domain.SideBuy && !fractionable {
		notional := amount.Round(2)
		req.Type = domain.OrderTypeMarket
		req.Notional = &notional
		e.quality.RecordDecision(PriceDecision{OrderType: domain.OrderTypeMarket, Reason: "non_fractionable_notional"})
		return req, decimal.Zero, ""
	}

	qty := amount.Div(price)
	if fractionable {
		qty = qty.RoundDown(6)
	} else {
		qty = qty.RoundDown(0)
	}
	if !qty.IsPositive() {
		return req, decimal.Zero, fmt.Sprintf("amount %s at price %s rounds to zero shares", amount, price)
	}
	req.Quantity = &qty

	quote, qErr := e.marketData.GetLatestQuote(ctx, item.Symbol)
	if qErr != nil {
		quote = nil
	}

	if _, fastMover := leveragedETFs[item.Symbol]; (fastMover || urgency == domain.UrgencyUrgent) && quote != nil && quote.Usable() {
		limit := AggressivePrice(side, *quote)
		req.Type = domain.OrderTypeLimit
		req.LimitPrice = &limit
		e.quality.RecordDecision(PriceDecision{OrderType: domain.OrderTypeLimit, Reason: "marketable_limit"})
		return req, quote.Mid(), ""
	}

	decision := e.pricer.Price(side, quote, urgency)
	e.quality.RecordDecision(decision)
	req.Type = decision.OrderType
	req.LimitPrice = decision.LimitPrice
	if quote != nil && quote.Usable() {
		mid = quote.Mid()
	}
	return req, mid, ""
}

// settleAndCollect waits for the submitted orders and harvests fills into
// the result, the circuit breaker, and the quality tracker.
func (e *Executor) settleAndCollect(ctx context.Context, subs []submission, result *ExecutionResult) {
	if len(subs) == 0 {
		return
	}
	byID := make(map[string]submission, len(subs))
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		byID[s.orderID] = s
		ids = append(ids, s.orderID)
	}

	settlement := e.waiter.Wait(ctx, ids)
	if !settlement.AllSettled {
		result.Errors = append(result.Errors,
			fmt.Sprintf("%d orders still pending after settlement wait", len(settlement.Pending)))
	}

	for _, id := range ids {
		status := settlement.Statuses[id]
		if !status.IsSettled() {
			continue
		}
		desc, err := e.account.GetOrderStatus(ctx, id)
		if err != nil {
			e.log.Warn().Err(err).Str("order_id", id).Msg("Could not fetch fill details for settled order")
			continue
		}
		if !desc.FilledQty.IsPositive() {
			continue
		}
		sub := byID[id]
		filled := domain.FilledOrder{
			OrderID:        desc.ID,
			Symbol:         desc.Symbol,
			Side:           desc.Side,
			FilledQty:      desc.FilledQty,
			FilledAvgPrice: desc.FilledAvgPrice,
			Status:         desc.Status,
			StrategyID:     sub.item.StrategyID,
			Timestamp:      desc.UpdatedAt,
		}
		result.FilledOrders = append(result.FilledOrders, filled)
		e.limiter.RecordTrade(filled.FilledValue())
		if sub.mid.IsPositive() {
			e.quality.RecordFill(desc.FilledAvgPrice, sub.mid)
		}
	}
}

// availableCapital is buying power when margin data exists, cash otherwise
func availableCapital(snapshot *domain.AccountSnapshot) decimal.Decimal {
	if snapshot.Margin != nil {
		return decimal.Min(snapshot.Margin.IntradayBuyingPower, snapshot.Margin.EffectiveBuyingPower)
	}
	return snapshot.Cash
}

func hasFailures(result *ExecutionResult) bool {
	if len(result.Errors) > 0 {
		return true
	}
	for _, o := range result.Outcomes {
		if o.Status == OutcomeFailed || o.Status == OutcomeSkipped {
			return true
		}
	}
	return false
}

func (e *Executor) logResult(result *ExecutionResult) {
	e.log.Info().
		Str("plan_id", result.PlanID).
		Str("correlation_id", result.CorrelationID).
		Bool("success", result.Success).
		Int("filled", len(result.FilledOrders)).
		Int("canceled", result.OrdersCanceled).
		Int("errors", len(result.Errors)).
		Msg("Plan execution finished")
}
