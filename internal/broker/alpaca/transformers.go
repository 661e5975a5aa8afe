package alpaca

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// Alpaca serializes every monetary field as a string.

type accountWire struct {
	Equity                string `json:"equity"`
	Cash                  string `json:"cash"`
	PortfolioValue        string `json:"portfolio_value"`
	BuyingPower           string `json:"buying_power"`
	DaytradingBuyingPower string `json:"daytrading_buying_power"`
	RegTBuyingPower       string `json:"regt_buying_power"`
	Multiplier            string `json:"multiplier"`
	MaintenanceMargin     string `json:"maintenance_margin"`
	PatternDayTrader      bool   `json:"pattern_day_trader"`
}

type positionWire struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	MarketValue    string `json:"market_value"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
	Side           string `json:"side"`
}

type orderWire struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Status         string    `json:"status"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice *string   `json:"filled_avg_price"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type orderRequestWire struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty,omitempty"`
	Notional      string `json:"notional,omitempty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ExtendedHours bool   `json:"extended_hours,omitempty"`
}

type quoteWire struct {
	Quote struct {
		BidPrice  float64   `json:"bp"`
		AskPrice  float64   `json:"ap"`
		BidSize   float64   `json:"bs"`
		AskSize   float64   `json:"as"`
		Timestamp time.Time `json:"t"`
	} `json:"quote"`
	Symbol string `json:"symbol"`
}

type barsWire struct {
	Bars []struct {
		Close     float64   `json:"c"`
		Timestamp time.Time `json:"t"`
	} `json:"bars"`
	Symbol        string `json:"symbol"`
	NextPageToken string `json:"next_page_token"`
}

type tradeWire struct {
	Trade struct {
		Price float64 `json:"p"`
	} `json:"trade"`
	Symbol string `json:"symbol"`
}

type assetWire struct {
	Symbol       string `json:"symbol"`
	Tradable     bool   `json:"tradable"`
	Fractionable bool   `json:"fractionable"`
}

func dec(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s=%q: %w", field, raw, err)
	}
	return d, nil
}

func accountFromWire(wire accountWire) (*domain.AccountSnapshot, error) {
	equity, err := dec("equity", wire.Equity)
	if err != nil {
		return nil, err
	}
	cash, err := dec("cash", wire.Cash)
	if err != nil {
		return nil, err
	}
	portfolioValue, err := dec("portfolio_value", wire.PortfolioValue)
	if err != nil {
		return nil, err
	}
	buyingPower, err := dec("buying_power", wire.BuyingPower)
	if err != nil {
		return nil, err
	}
	intraday, err := dec("daytrading_buying_power", wire.DaytradingBuyingPower)
	if err != nil {
		return nil, err
	}
	regT, err := dec("regt_buying_power", wire.RegTBuyingPower)
	if err != nil {
		return nil, err
	}
	multiplier, err := dec("multiplier", wire.Multiplier)
	if err != nil {
		return nil, err
	}
	maintenance, err := dec("maintenance_margin", wire.MaintenanceMargin)
	if err != nil {
		return nil, err
	}

	// Cash accounts report a daytrading BP of zero; treat overall buying
	// power as the intraday limit there.
	if intraday.IsZero() {
		intraday = buyingPower
	}
	if regT.IsZero() {
		regT = buyingPower
	}

	hundred := decimal.NewFromInt(100)
	utilization := decimal.Zero
	buffer := hundred
	if equity.IsPositive() {
		utilization = maintenance.Div(equity).Mul(hundred)
		buffer = equity.Sub(maintenance).Div(equity).Mul(hundred)
	}

	return &domain.AccountSnapshot{
		TotalValue: portfolioValue,
		Cash:       cash,
		Equity:     equity,
		Margin: &domain.MarginInfo{
			BuyingPower:          buyingPower,
			IntradayBuyingPower:  intraday,
			EffectiveBuyingPower: regT,
			Multiplier:           multiplier,
			MarginUtilizationPct: utilization,
			MaintenanceBufferPct: buffer,
			IsPDTAccount:         wire.PatternDayTrader,
		},
	}, nil
}

func positionFromWire(wire positionWire) (domain.Position, error) {
	qty, err := dec("qty", wire.Qty)
	if err != nil {
		return domain.Position{}, err
	}
	avgEntry, err := dec("avg_entry_price", wire.AvgEntryPrice)
	if err != nil {
		return domain.Position{}, err
	}
	current, err := dec("current_price", wire.CurrentPrice)
	if err != nil {
		return domain.Position{}, err
	}
	marketValue, err := dec("market_value", wire.MarketValue)
	if err != nil {
		return domain.Position{}, err
	}
	upl, err := dec("unrealized_pl", wire.UnrealizedPL)
	if err != nil {
		return domain.Position{}, err
	}
	uplpc, err := dec("unrealized_plpc", wire.UnrealizedPLPC)
	if err != nil {
		return domain.Position{}, err
	}
	return domain.Position{
		Symbol:         wire.Symbol,
		Quantity:       qty,
		AvgEntryPrice:  avgEntry,
		CurrentPrice:   current,
		MarketValue:    marketValue,
		UnrealizedPL:   upl,
		UnrealizedPLPC: uplpc,
		Side:           wire.Side,
	}, nil
}

func orderFromWire(wire orderWire) (domain.OrderDescriptor, error) {
	filledQty, err := dec("filled_qty", wire.FilledQty)
	if err != nil {
		return domain.OrderDescriptor{}, err
	}
	filledAvg := decimal.Zero
	if wire.FilledAvgPrice != nil {
		filledAvg, err = dec("filled_avg_price", *wire.FilledAvgPrice)
		if err != nil {
			return domain.OrderDescriptor{}, err
		}
	}
	return domain.OrderDescriptor{
		ID:             wire.ID,
		Symbol:         wire.Symbol,
		Side:           domain.OrderSide(wire.Side),
		Status:         statusFromWire(wire.Status),
		FilledQty:      filledQty,
		FilledAvgPrice: filledAvg,
		CreatedAt:      wire.CreatedAt,
		UpdatedAt:      wire.UpdatedAt,
	}, nil
}

// statusFromWire maps Alpaca order states onto the engine's state machine
func statusFromWire(status string) domain.OrderStatus {
	switch strings.ToLower(status) {
	case "new":
		return domain.OrderStatusNew
	case "accepted", "pending_new", "accepted_for_bidding":
		return domain.OrderStatusAccepted
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "pending_cancel", "done_for_day", "stopped":
		return domain.OrderStatusCanceled
	case "rejected":
		return domain.OrderStatusRejected
	case "expired":
		return domain.OrderStatusExpired
	case "suspended", "calculated", "held", "pending_replace", "replaced":
		return domain.OrderStatusSubmitted
	default:
		return domain.OrderStatusError
	}
}

func orderRequestToWire(req domain.OrderRequest) orderRequestWire {
	wire := orderRequestWire{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ExtendedHours: req.ExtendedHours,
	}
	if req.Quantity != nil {
		wire.Qty = req.Quantity.String()
	}
	if req.Notional != nil {
		wire.Notional = req.Notional.StringFixed(2)
	}
	if req.LimitPrice != nil {
		wire.LimitPrice = req.LimitPrice.StringFixed(2)
	}
	return wire
}

func quoteFromWire(wire quoteWire, symbol string) domain.Quote {
	return domain.Quote{
		Symbol:    symbol,
		Bid:       decimal.NewFromFloat(wire.Quote.BidPrice),
		Ask:       decimal.NewFromFloat(wire.Quote.AskPrice),
		BidSize:   decimal.NewFromFloat(wire.Quote.BidSize),
		AskSize:   decimal.NewFromFloat(wire.Quote.AskSize),
		Timestamp: wire.Quote.Timestamp,
	}
}
