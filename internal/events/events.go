// Package events provides the in-process event bus. Events are emitted
// fire-and-forget after a run's result is computed; no subscriber can
// affect the run outcome.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// EventType represents different event types
type EventType string

const (
	RunCompleted      EventType = "RUN_COMPLETED"
	TradeExecuted     EventType = "TRADE_EXECUTED"
	DailyLimitTripped EventType = "DAILY_LIMIT_TRIPPED"
)

// EventData is implemented by all typed event payloads
type EventData interface {
	EventType() EventType
}

// Event is one emitted event with its payload
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// RunCompletedData summarizes a finished trading run
type RunCompletedData struct {
	CorrelationID  string `json:"correlation_id"`
	Success        bool   `json:"success"`
	OrdersExecuted int    `json:"orders_executed"`
	OrdersCanceled int    `json:"orders_canceled"`
	ErrorCategory  string `json:"error_category,omitempty"`
}

// EventType returns the event type for RunCompletedData
func (d *RunCompletedData) EventType() EventType { return RunCompleted }

// TradeExecutedData describes one confirmed fill
type TradeExecutedData struct {
	OrderID    string            `json:"order_id"`
	Symbol     string            `json:"symbol"`
	Side       domain.OrderSide  `json:"side"`
	Quantity   decimal.Decimal   `json:"quantity"`
	Price      decimal.Decimal   `json:"price"`
	StrategyID domain.StrategyID `json:"strategy_id"`
}

// EventType returns the event type for TradeExecutedData
func (d *TradeExecutedData) EventType() EventType { return TradeExecuted }

// DailyLimitTrippedData is emitted when the circuit breaker blocks a trade
type DailyLimitTrippedData struct {
	CorrelationID string          `json:"correlation_id"`
	Symbol        string          `json:"symbol"`
	Attempted     decimal.Decimal `json:"attempted"`
	Cumulative    decimal.Decimal `json:"cumulative"`
	Limit         decimal.Decimal `json:"limit"`
}

// EventType returns the event type for DailyLimitTrippedData
func (d *DailyLimitTrippedData) EventType() EventType { return DailyLimitTripped }
