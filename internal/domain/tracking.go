package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyPosition is the per-(strategy, symbol) cost-basis record. It is
// the source of truth for strategy attribution; broker positions are only
// used for total-share reconciliation.
type StrategyPosition struct {
	StrategyID  StrategyID      `json:"strategy_id"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Closed reports whether the position is fully exited
func (p StrategyPosition) Closed() bool {
	return p.Quantity.IsZero()
}

// MarketValue returns quantity x price
func (p StrategyPosition) MarketValue(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPnL returns quantity x (price - average_cost)
func (p StrategyPosition) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price.Sub(p.AverageCost))
}

// StrategyPnL is the on-demand P&L view for one strategy
type StrategyPnL struct {
	StrategyID      StrategyID         `json:"strategy_id"`
	RealizedPnL     decimal.Decimal    `json:"realized_pnl"`
	UnrealizedPnL   decimal.Decimal    `json:"unrealized_pnl"`
	TotalPnL        decimal.Decimal    `json:"total_pnl"`
	AllocationValue decimal.Decimal    `json:"allocation_value"`
	TotalReturnPct  decimal.Decimal    `json:"total_return_pct"`
	Positions       []StrategyPosition `json:"positions"`
	AsOf            time.Time          `json:"as_of"`
}
