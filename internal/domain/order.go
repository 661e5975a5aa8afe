package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the broker-facing order direction
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType selects market or limit execution
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TimeInForce controls order lifetime at the broker
type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

// OrderStatus is the broker-reported order state
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
	OrderStatusError           OrderStatus = "ERROR"
)

// IsTerminal reports whether the status is final at the broker
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired, OrderStatusError:
		return true
	}
	return false
}

// IsSettled reports whether the status counts as settled for phase
// sequencing. PARTIALLY_FILLED is quasi-terminal: the remainder is left
// to the broker.
func (s OrderStatus) IsSettled() bool {
	return s.IsTerminal() || s == OrderStatusPartiallyFilled
}

// OrderRequest describes an order to submit. Exactly one of Quantity or
// Notional must be set; LimitPrice is required iff Type is limit.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Side          OrderSide        `json:"side"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"` // <= 6 dp
	Notional      *decimal.Decimal `json:"notional,omitempty"` // 2 dp
	Type          OrderType        `json:"type"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"` // 2 dp
	TimeInForce   TimeInForce      `json:"time_in_force"`
	ExtendedHours bool             `json:"extended_hours,omitempty"`
}

// Validate checks the request invariants
func (r OrderRequest) Validate() error {
	if err := ValidateSymbol(r.Symbol); err != nil {
		return err
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%s: invalid order side %q", r.Symbol, r.Side)
	}
	if (r.Quantity == nil) == (r.Notional == nil) {
		return fmt.Errorf("%s: exactly one of quantity or notional must be set", r.Symbol)
	}
	if r.Quantity != nil && !r.Quantity.IsPositive() {
		return fmt.Errorf("%s: quantity must be positive, got %s", r.Symbol, r.Quantity)
	}
	if r.Notional != nil && !r.Notional.IsPositive() {
		return fmt.Errorf("%s: notional must be positive, got %s", r.Symbol, r.Notional)
	}
	if r.Type == OrderTypeLimit && r.LimitPrice == nil {
		return fmt.Errorf("%s: limit order requires limit_price", r.Symbol)
	}
	if r.Type == OrderTypeMarket && r.LimitPrice != nil {
		return fmt.Errorf("%s: market order must not carry limit_price", r.Symbol)
	}
	return nil
}

// OrderDescriptor is the broker's view of an order (status poll response)
type OrderDescriptor struct {
	ID             string          `json:"id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Status         OrderStatus     `json:"status"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// FilledOrder is a confirmed fill with its strategy attribution.
// Owned by the Strategy Tracker after confirmation.
type FilledOrder struct {
	OrderID        string          `json:"order_id"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	FilledQty      decimal.Decimal `json:"filled_qty"`
	FilledAvgPrice decimal.Decimal `json:"filled_avg_price"`
	Status         OrderStatus     `json:"status"`
	StrategyID     StrategyID      `json:"strategy_id"`
	Timestamp      time.Time       `json:"timestamp"`
}

// FilledValue returns |qty x price| for circuit-breaker accounting
func (f FilledOrder) FilledValue() decimal.Decimal {
	return f.FilledQty.Mul(f.FilledAvgPrice).Abs()
}
