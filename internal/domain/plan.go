package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeAction is the direction of a rebalance plan item
type TradeAction string

const (
	TradeBuy  TradeAction = "BUY"
	TradeSell TradeAction = "SELL"
	TradeHold TradeAction = "HOLD"
)

// Urgency controls how aggressively the executor prices orders
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
	UrgencyUrgent Urgency = "urgent"
)

// RebalancePlanItem is one symbol's trade in a rebalance plan.
// TradeAmount is signed: positive for BUY, negative for SELL, zero for HOLD.
type RebalancePlanItem struct {
	Symbol        string          `json:"symbol"`
	CurrentWeight decimal.Decimal `json:"current_weight"`
	TargetWeight  decimal.Decimal `json:"target_weight"`
	WeightDiff    decimal.Decimal `json:"weight_diff"`
	TargetValue   decimal.Decimal `json:"target_value"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	TradeAmount   decimal.Decimal `json:"trade_amount"`
	Action        TradeAction     `json:"action"`
	Priority      int             `json:"priority"` // 1 (highest) .. 5
	StrategyID    StrategyID      `json:"strategy_id"`
}

/// Validate checks item invariants: action matches the sign of the trade
// amount and priority is in range.
func (i RebalancePlanItem) Validate() error {
	switch i.Action {
	case TradeBuy:
		if !i.TradeAmount.IsPositive() {
			return fmt.Errorf("%s: BUY requires positive trade amount, got %s", i.Symbol, i.TradeAmount)
		}
	case TradeSell:
		if !i.TradeAmount.IsNegative() {
			return fmt.Errorf("%s: SELL requires negative trade amount, got %s", i.Symbol, i.TradeAmount)
		}
	case TradeHold:
		if !i.TradeAmount.IsZero() {
			return fmt.Errorf("%s: HOLD requires zero trade amount, got %s", i.Symbol, i.TradeAmount)
		}
	default:
		return fmt.Errorf("%s: invalid action %q", i.Symbol, i.Action)
	}
	if i.Priority < 1 || i.Priority > 5 {
		return fmt.Errorf("%s: priority %d outside 1..5", i.Symbol, i.Priority)
	}
	return nil
}

// PriorityForAmount maps an absolute trade value to an execution priority
func PriorityForAmount(abs decimal.Decimal) int {
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(10000)):
		return 1
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return 2
	case abs.GreaterThanOrEqual(decimal.NewFromInt(100)):
		return 3
	case abs.GreaterThanOrEqual(decimal.NewFromInt(50)):
		return 4
	default:
		return 5
	}
}

// RebalancePlan is the ordered list of trades that moves the current
// portfolio to the consolidated target. Items are sorted SELL before BUY,
// each group by ascending priority number (1 first).
type RebalancePlan struct {
	PlanID              string              `json:"plan_id"`
	CorrelationID       string              `json:"correlation_id"`
	CausationID         string              `json:"causation_id"`
	Timestamp           time.Time           `json:"timestamp"`
	Items               []RebalancePlanItem `json:"items"`
	TotalPortfolioValue decimal.Decimal     `json:"total_portfolio_value"`
	TotalTradeValue     decimal.Decimal     `json:"total_trade_value"`
	MaxDriftTolerance   decimal.Decimal     `json:"max_drift_tolerance"`
	ExecutionUrgency    Urgency             `json:"execution_urgency"`
}

// Sells returns the SELL items in plan order
func (p RebalancePlan) Sells() []RebalancePlanItem {
	return p.byAction(TradeSell)
}

// Buys returns the BUY items in plan order
func (p RebalancePlan) Buys() []RebalancePlanItem {
	return p.byAction(TradeBuy)
}

func (p RebalancePlan) byAction(action TradeAction) []RebalancePlanItem {
	var items []RebalancePlanItem
	for _, item := range p.Items {
		if item.Action == action {
			items = append(items, item)
		}
	}
	return items
}

// Symbols returns every symbol referenced by the plan
func (p RebalancePlan) Symbols() []string {
	symbols := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		symbols = append(symbols, item.Symbol)
	}
	return symbols
}
