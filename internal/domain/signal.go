// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// StrategyID identifies a trading strategy
type StrategyID string

const (
	StrategyNuclear StrategyID = "NUCLEAR"
	StrategyTECL    StrategyID = "TECL"
	StrategyKLM     StrategyID = "KLM"
	// StrategyDefault receives attribution when no contributor is known
	StrategyDefault StrategyID = "DEFAULT"
)

// SignalAction represents the directional intent of a strategy signal
type SignalAction string

const (
	ActionBuy  SignalAction = "BUY"
	ActionSell SignalAction = "SELL"
	ActionHold SignalAction = "HOLD"
)

// StrategySignal is a single typed signal emitted by a strategy for one run.
// Signals are value objects: construct via NewStrategySignal, which validates.
type StrategySignal struct {
	Symbol           string          `json:"symbol"`
	Action           SignalAction    `json:"action"`
	Confidence       decimal.Decimal `json:"confidence"`        // [0, 1]
	TargetAllocation decimal.Decimal `json:"target_allocation"` // [0, 1], fraction of the strategy's budget
	Reasoning        string          `json:"reasoning"`
	StrategyID       StrategyID      `json:"strategy_id"`
	Timestamp        time.Time       `json:"timestamp"`
}

// NewStrategySignal builds a validated signal. Invalid construction returns
// a typed error rather than a partially valid value.
func NewStrategySignal(
	strategyID StrategyID,
	symbol string,
	action SignalAction,
	confidence, targetAllocation decimal.Decimal,
	reasoning string,
	timestamp time.Time,
) (StrategySignal, error) {
	sig := StrategySignal{
		Symbol:           symbol,
		Action:           action,
		Confidence:       confidence,
		TargetAllocation: targetAllocation,
		Reasoning:        reasoning,
		StrategyID:       strategyID,
		Timestamp:        timestamp.UTC(),
	}
	if err := sig.Validate(); err != nil {
		return StrategySignal{}, err
	}
	return sig, nil
}

// Validate checks the signal invariants
func (s StrategySignal) Validate() error {
	if err := ValidateSymbol(s.Symbol); err != nil {
		return err
	}
	switch s.Action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return fmt.Errorf("invalid signal action %q", s.Action)
	}
	one := decimal.NewFromInt(1)
	if s.Confidence.IsNegative() || s.Confidence.GreaterThan(one) {
		return fmt.Errorf("confidence %s outside [0,1]", s.Confidence)
	}
	if s.TargetAllocation.IsNegative() || s.TargetAllocation.GreaterThan(one) {
		return fmt.Errorf("target_allocation %s outside [0,1]", s.TargetAllocation)
	}
	if s.Action == ActionBuy && !s.TargetAllocation.IsPositive() {
		return fmt.Errorf("BUY signal for %s requires target_allocation > 0", s.Symbol)
	}
	return nil
}

// ValidateSymbol enforces the ticker format: 1-10 uppercase characters
func ValidateSymbol(symbol string) error {
	if len(symbol) < 1 || len(symbol) > 10 {
		return fmt.Errorf("symbol %q must be 1-10 characters", symbol)
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '.' {
			return fmt.Errorf("symbol %q must be uppercase", symbol)
		}
	}
	return nil
}
