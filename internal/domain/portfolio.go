package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents a broker position
type Position struct {
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	AvgEntryPrice  decimal.Decimal `json:"avg_entry_price"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	MarketValue    decimal.Decimal `json:"market_value"`
	UnrealizedPL   decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC decimal.Decimal `json:"unrealized_plpc"`
	Side           string          `json:"side"` // "long" or "short"
}

// MarginInfo carries broker-reported margin capacity.
// When leverage is disabled the effective deployable never exceeds equity.
type MarginInfo struct {
	BuyingPower          decimal.Decimal `json:"buying_power"`
	IntradayBuyingPower  decimal.Decimal `json:"intraday_buying_power"`
	EffectiveBuyingPower decimal.Decimal `json:"effective_buying_power"`
	Multiplier           decimal.Decimal `json:"multiplier"`
	MarginUtilizationPct decimal.Decimal `json:"margin_utilization_pct"`
	MaintenanceBufferPct decimal.Decimal `json:"maintenance_buffer_pct"`
	IsPDTAccount         bool            `json:"is_pdt_account"`
}

// AccountSnapshot is the account-level view supplied by the Account Port
type AccountSnapshot struct {
	TotalValue decimal.Decimal `json:"total_value"`
	Cash       decimal.Decimal `json:"cash"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     *MarginInfo     `json:"margin,omitempty"`
}

// PortfolioSnapshot is a read-only value object capturing account state at
// the start of a run. It is refreshed after SELL settlement.
type PortfolioSnapshot struct {
	TotalValue decimal.Decimal            `json:"total_value"`
	Cash       decimal.Decimal            `json:"cash"`
	Positions  map[string]Position        `json:"positions"` // symbol -> position
	Prices     map[string]decimal.Decimal `json:"prices"`    // symbol -> last price
	Margin     *MarginInfo                `json:"margin,omitempty"`
	CapturedAt time.Time                  `json:"captured_at"`
}

// PositionQuantity returns the held quantity for a symbol, zero if none
func (p PortfolioSnapshot) PositionQuantity(symbol string) decimal.Decimal {
	if pos, ok := p.Positions[symbol]; ok {
		return pos.Quantity
	}
	return decimal.Zero
}

// ConsolidatedPortfolio is the single desired weight vector produced by the
// Signal Aggregator. Contributors preserve insertion order so that primary
// strategy attribution is deterministic.
type ConsolidatedPortfolio struct {
	Weights      map[string]decimal.Decimal `json:"weights"`                 // symbol -> weight, >= 0
	Contributors map[string][]StrategyID    `json:"contributing_strategies"` // symbol -> strategies in insertion order
}

// NewConsolidatedPortfolio creates an empty consolidated portfolio
func NewConsolidatedPortfolio() ConsolidatedPortfolio {
	return ConsolidatedPortfolio{
		Weights:      make(map[string]decimal.Decimal),
		Contributors: make(map[string][]StrategyID),
	}
}

// TotalWeight returns the sum of all target weights
func (c ConsolidatedPortfolio) TotalWeight() decimal.Decimal {
	total := decimal.Zero
	for _, w := range c.Weights {
		total = total.Add(w)
	}
	return total
}

// PrimaryStrategy returns the strategy that receives trade attribution for
// a symbol: the first contributor in insertion order. Falls back to the
// provided default when the symbol has no recorded contributor.
func (c ConsolidatedPortfolio) PrimaryStrategy(symbol string, fallback StrategyID) StrategyID {
	if contributors, ok := c.Contributors[symbol]; ok && len(contributors) > 0 {
		return contributors[0]
	}
	return fallback
}

// AddContribution accumulates a weight contribution for a symbol and records
// the contributing strategy once, preserving first-seen order.
func (c ConsolidatedPortfolio) AddContribution(symbol string, weight decimal.Decimal, strategy StrategyID) {
	c.Weights[symbol] = c.Weights[symbol].Add(weight)
	for _, s := range c.Contributors[symbol] {
		if s == strategy {
			return
		}
	}
	c.Contributors[symbol] = append(c.Contributors[symbol], strategy)
}
