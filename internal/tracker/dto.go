package tracker

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// Object-store keys, relative to the deployment-mode prefix
const (
	keyRecentOrders     = "strategy_orders/recent_orders.json"
	keyCurrentPositions = "strategy_positions/current_positions.json"
	keyRealizedPnL      = "strategy_positions/realized_pnl.json"
	pnlHistoryDir       = "strategy_pnl_history"
)

// OrderRecord is one entry of the bounded order log
type OrderRecord struct {
	OrderID   string
	Strategy  domain.StrategyID
	Symbol    string
	Side      string // "BUY" | "SELL"
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
}

// All decimals are serialized as strings to preserve precision.

type orderDTO struct {
	OrderID   string `json:"order_id"`
	Strategy  string `json:"strategy"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price"`
	Timestamp string `json:"timestamp"`
}

type ordersDoc struct {
	Orders  []orderDTO `json:"orders"`
	Version int        `json:"version"`
}

type positionDTO struct {
	Strategy    string `json:"strategy"`
	Symbol      string `json:"symbol"`
	Quantity    string `json:"quantity"`
	AverageCost string `json:"average_cost"`
	TotalCost   string `json:"total_cost"`
	LastUpdated string `json:"last_updated"`
}

type positionsDoc struct {
	Positions   []positionDTO `json:"positions"`
	LastUpdated string        `json:"last_updated"`
}

type strategyPnLDTO struct {
	Realized        string `json:"realized_pnl"`
	Unrealized      string `json:"unrealized_pnl"`
	Total           string `json:"total_pnl"`
	AllocationValue string `json:"allocation_value"`
	TotalReturnPct  string `json:"total_return_pct"`
}

type pnlArchiveDoc struct {
	Date        string                    `json:"date"`
	Strategies  map[string]strategyPnLDTO `json:"strategies"`
	GeneratedAt string                    `json:"generated_at"`
}

func orderToDTO(r OrderRecord) orderDTO {
	return orderDTO{
		OrderID:   r.OrderID,
		Strategy:  string(r.Strategy),
		Symbol:    r.Symbol,
		Side:      r.Side,
		Quantity:  r.Quantity.String(),
		Price:     r.Price.String(),
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
	}
}

func orderFromDTO(dto orderDTO) (OrderRecord, error) {
	qty, err := decimal.NewFromString(dto.Quantity)
	if err != nil {
		return OrderRecord{}, err
	}
	price, err := decimal.NewFromString(dto.Price)
	if err != nil {
		return OrderRecord{}, err
	}
	ts, err := time.Parse(time.RFC3339, dto.Timestamp)
	if err != nil {
		return OrderRecord{}, err
	}
	return OrderRecord{
		OrderID:   dto.OrderID,
		Strategy:  domain.StrategyID(dto.Strategy),
		Symbol:    dto.Symbol,
		Side:      dto.Side,
		Quantity:  qty,
		Price:     price,
		Timestamp: ts,
	}, nil
}

func positionToDTO(p domain.StrategyPosition) positionDTO {
	return positionDTO{
		Strategy:    string(p.StrategyID),
		Symbol:      p.Symbol,
		Quantity:    p.Quantity.String(),
		AverageCost: p.AverageCost.String(),
		TotalCost:   p.TotalCost.String(),
		LastUpdated: p.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func positionFromDTO(dto positionDTO) (domain.StrategyPosition, error) {
	qty, err := decimal.NewFromString(dto.Quantity)
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	avg, err := decimal.NewFromString(dto.AverageCost)
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	total, err := decimal.NewFromString(dto.TotalCost)
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	ts, err := time.Parse(time.RFC3339, dto.LastUpdated)
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	return domain.StrategyPosition{
		StrategyID:  domain.StrategyID(dto.Strategy),
		Symbol:      dto.Symbol,
		Quantity:    qty,
		AverageCost: avg,
		TotalCost:   total,
		LastUpdated: ts,
	}, nil
}

func pnlToDTO(p domain.StrategyPnL) strategyPnLDTO {
	return strategyPnLDTO{
		Realized:        p.RealizedPnL.String(),
		Unrealized:      p.UnrealizedPnL.String(),
		Total:           p.TotalPnL.String(),
		AllocationValue: p.AllocationValue.String(),
		TotalReturnPct:  p.TotalReturnPct.String(),
	}
}
