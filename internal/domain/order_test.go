package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderRequest_Validate(t *testing.T) {
	qty := d("10")
	notional := d("1000")
	price := d("99.50")

	testCases := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{
			name: "quantity market order",
			req:  OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: &qty, Type: OrderTypeMarket, TimeInForce: TIFDay},
		},
		{
			name: "notional market order",
			req:  OrderRequest{Symbol: "MSFT", Side: SideBuy, Notional: &notional, Type: OrderTypeMarket, TimeInForce: TIFDay},
		},
		{
			name: "limit order with price",
			req:  OrderRequest{Symbol: "AAPL", Side: SideSell, Quantity: &qty, Type: OrderTypeLimit, LimitPrice: &price, TimeInForce: TIFDay},
		},
		{
			name:    "both quantity and notional",
			req:     OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: &qty, Notional: &notional, Type: OrderTypeMarket, TimeInForce: TIFDay},
			wantErr: true,
		},
		{
			name:    "neither quantity nor notional",
			req:     OrderRequest{Symbol: "AAPL", Side: SideBuy, Type: OrderTypeMarket, TimeInForce: TIFDay},
			wantErr: true,
		},
		{
			name:    "limit without price",
			req:     OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: &qty, Type: OrderTypeLimit, TimeInForce: TIFDay},
			wantErr: true,
		},
		{
			name:    "market with limit price",
			req:     OrderRequest{Symbol: "AAPL", Side: SideBuy, Quantity: &qty, Type: OrderTypeMarket, LimitPrice: &price, TimeInForce: TIFDay},
			wantErr: true,
		},
		{
			name:    "invalid side",
			req:     OrderRequest{Symbol: "AAPL", Side: OrderSide("hold"), Quantity: &qty, Type: OrderTypeMarket, TimeInForce: TIFDay},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderStatus_Terminality(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired, OrderStatusError}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.True(t, s.IsSettled(), "%s should be settled", s)
	}

	assert.False(t, OrderStatusPartiallyFilled.IsTerminal())
	assert.True(t, OrderStatusPartiallyFilled.IsSettled())

	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusSubmitted, OrderStatusAccepted} {
		assert.False(t, s.IsTerminal())
		assert.False(t, s.IsSettled())
	}
}

func TestErrorClassification(t *testing.T) {
	var err error = &InsufficientCapitalError{Required: d("10000"), Available: d("500")}
	assert.Equal(t, CodeInsufficientCapital, ClassifyError(err))

	var cap *InsufficientCapitalError
	assert.True(t, errors.As(err, &cap))
	assert.True(t, cap.Deficit().Equal(d("9500")))

	assert.Equal(t, CodeDailyTradeLimit, ClassifyError(&DailyTradeLimitExceededError{}))
	assert.Equal(t, CodeUnknown, ClassifyError(errors.New("boom")))
}

func TestQuote_Helpers(t *testing.T) {
	q := Quote{Symbol: "AAPL", Bid: d("100.00"), Ask: d("100.10")}
	assert.True(t, q.Usable())
	assert.True(t, q.Spread().Equal(d("0.10")))
	assert.True(t, q.Mid().Equal(d("100.05")))

	crossed := Quote{Symbol: "AAPL", Bid: d("100.10"), Ask: d("100.00")}
	assert.False(t, crossed.Usable())

	zero := Quote{Symbol: "AAPL", Bid: d("0"), Ask: d("100.00")}
	assert.False(t, zero.Usable())
}

func TestConsolidatedPortfolio_Attribution(t *testing.T) {
	cp := NewConsolidatedPortfolio()
	cp.AddContribution("TECL", d("0.3"), StrategyKLM)
	cp.AddContribution("TECL", d("0.2"), StrategyTECL)
	cp.AddContribution("TECL", d("0.1"), StrategyKLM)

	assert.True(t, cp.Weights["TECL"].Equal(d("0.6")))
	assert.Equal(t, StrategyKLM, cp.PrimaryStrategy("TECL", StrategyDefault))
	assert.Equal(t, []StrategyID{StrategyKLM, StrategyTECL}, cp.Contributors["TECL"])
	assert.Equal(t, StrategyDefault, cp.PrimaryStrategy("UNKNOWN", StrategyDefault))
}
