package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriorityForAmount(t *testing.T) {
	testCases := []struct {
		amount   string
		priority int
	}{
		{"25000", 1},
		{"10000", 1},
		{"9999.99", 2},
		{"1000", 2},
		{"999.99", 3},
		{"100", 3},
		{"99.99", 4},
		{"50", 4},
		{"49.99", 5},
		{"0", 5},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.priority, PriorityForAmount(d(tc.amount)), "amount %s", tc.amount)
	}
}

func TestRebalancePlanItem_Validate(t *testing.T) {
	valid := RebalancePlanItem{Symbol: "AAPL", Action: TradeBuy, TradeAmount: d("100"), Priority: 3}
	assert.NoError(t, valid.Validate())

	buyNegative := RebalancePlanItem{Symbol: "AAPL", Action: TradeBuy, TradeAmount: d("-100"), Priority: 3}
	assert.Error(t, buyNegative.Validate())

	sellPositive := RebalancePlanItem{Symbol: "AAPL", Action: TradeSell, TradeAmount: d("100"), Priority: 3}
	assert.Error(t, sellPositive.Validate())

	holdNonZero := RebalancePlanItem{Symbol: "AAPL", Action: TradeHold, TradeAmount: d("1"), Priority: 5}
	assert.Error(t, holdNonZero.Validate())

	badPriority := RebalancePlanItem{Symbol: "AAPL", Action: TradeHold, TradeAmount: d("0"), Priority: 0}
	assert.Error(t, badPriority.Validate())
}

func TestRebalancePlan_SellsAndBuys(t *testing.T) {
	plan := RebalancePlan{
		Items: []RebalancePlanItem{
			{Symbol: "SPY", Action: TradeSell, TradeAmount: d("-9000"), Priority: 2},
			{Symbol: "QQQ", Action: TradeBuy, TradeAmount: d("10000"), Priority: 1},
			{Symbol: "BIL", Action: TradeHold, TradeAmount: d("0"), Priority: 5},
		},
	}

	sells := plan.Sells()
	assert.Len(t, sells, 1)
	assert.Equal(t, "SPY", sells[0].Symbol)

	buys := plan.Buys()
	assert.Len(t, buys, 1)
	assert.Equal(t, "QQQ", buys[0].Symbol)

	assert.Equal(t, []string{"SPY", "QQQ", "BIL"}, plan.Symbols())
}
