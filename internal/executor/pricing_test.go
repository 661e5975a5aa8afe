package executor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/domain"
)

func quote(bid, ask string) domain.Quote {
	return domain.Quote{Symbol: "TEST", Bid: d(bid), Ask: d(ask)}
}

func TestClassifySpread(t *testing.T) {
	tests := []struct {
		name     string
		bid, ask string
		expected SpreadQuality
	}{
		{"three cent spread is tight", "100.00", "100.03", SpreadTight},
		{"sub 10 bps is tight even when wide in cents", "1000.00", "1000.50", SpreadTight},
		{"four cents on a cheap stock is normal", "20.00", "20.04", SpreadNormal},
		{"over five cents is wide", "20.00", "20.06", SpreadWide},
		{"over 100 bps is wide", "4.00", "4.05", SpreadWide},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifySpread(quote(tt.bid, tt.ask)))
		})
	}
}

func TestSmartPricer_LimitAlwaysInsideBook(t *testing.T) {
	pricer := NewSmartPricer(d("10000"), testLogger()) // slippage bound off

	quotes := []domain.Quote{
		quote("100.00", "100.03"),
		quote("50.00", "50.04"),
		quote("20.00", "20.25"),
		quote("300.00", "300.10"),
	}
	urgencies := []domain.Urgency{
		domain.UrgencyLow, domain.UrgencyNormal, domain.UrgencyHigh, domain.UrgencyUrgent,
	}

	for _, q := range quotes {
		for _, u := range urgencies {
			for _, side := range []domain.OrderSide{domain.SideBuy, domain.SideSell} {
				decision := pricer.Price(side, &q, u)
				require.Equal(t, domain.OrderTypeLimit, decision.OrderType,
					"quote %s/%s urgency %s", q.Bid, q.Ask, u)
				require.NotNil(t, decision.LimitPrice)
				assert.True(t, decision.LimitPrice.GreaterThan(q.Bid),
					"limit %s must exceed bid %s", decision.LimitPrice, q.Bid)
				assert.True(t, decision.LimitPrice.LessThan(q.Ask),
					"limit %s must be below ask %s", decision.LimitPrice, q.Ask)
			}
		}
	}
}

func TestSmartPricer_UrgentIsNeverLessAggressive(t *testing.T) {
	pricer := NewSmartPricer(d("10000"), testLogger())

	quotes := []domain.Quote{
		quote("100.00", "100.02"), // tight
		quote("50.00", "50.04"),   // normal
		quote("20.00", "20.25"),   // wide, clamp path
		quote("100.00", "100.30"), // wide, extra-cent alone would lag
	}
	for _, q := range quotes {
		buyCalm := pricer.Price(domain.SideBuy, &q, domain.UrgencyNormal)
		buyUrgent := pricer.Price(domain.SideBuy, &q, domain.UrgencyUrgent)
		require.NotNil(t, buyCalm.LimitPrice)
		require.NotNil(t, buyUrgent.LimitPrice)
		assert.True(t, buyUrgent.LimitPrice.GreaterThanOrEqual(*buyCalm.LimitPrice),
			"quote %s/%s: urgent BUY %s below calm %s", q.Bid, q.Ask, buyUrgent.LimitPrice, buyCalm.LimitPrice)

		sellCalm := pricer.Price(domain.SideSell, &q, domain.UrgencyNormal)
		sellUrgent := pricer.Price(domain.SideSell, &q, domain.UrgencyUrgent)
		require.NotNil(t, sellCalm.LimitPrice)
		require.NotNil(t, sellUrgent.LimitPrice)
		assert.True(t, sellUrgent.LimitPrice.LessThanOrEqual(*sellCalm.LimitPrice),
			"quote %s/%s: urgent SELL %s above calm %s", q.Bid, q.Ask, sellUrgent.LimitPrice, sellCalm.LimitPrice)
	}
}

func TestSmartPricer_TightSpreadBuyMath(t *testing.T) {
	pricer := NewSmartPricer(d("10000"), testLogger())
	q := quote("100.00", "100.03") // tight, factor 0.6

	decision := pricer.Price(domain.SideBuy, &q, domain.UrgencyNormal)
	require.NotNil(t, decision.LimitPrice)
	// ask - spread*0.6 = 100.03 - 0.018 = 100.012, rounded to 100.01
	assert.True(t, decision.LimitPrice.Equal(d("100.01")), "got %s", decision.LimitPrice)
	assert.Equal(t, string(SpreadTight), decision.Reason)
}

func TestSmartPricer_MarketFallbacks(t *testing.T) {
	pricer := NewSmartPricer(d("20"), testLogger())

	tests := []struct {
		name   string
		quote  *domain.Quote
		reason string
	}{
		{"nil quote", nil, "unusable_quote"},
		{"zero bid", &domain.Quote{Bid: decimal.Zero, Ask: d("10")}, "unusable_quote"},
		{"crossed book", &domain.Quote{Bid: d("10.05"), Ask: d("10.00")}, "unusable_quote"},
		{"one cent spread", &domain.Quote{Bid: d("10.00"), Ask: d("10.01")}, "spread_too_tight"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := pricer.Price(domain.SideBuy, tt.quote, domain.UrgencyNormal)
			assert.Equal(t, domain.OrderTypeMarket, decision.OrderType)
			assert.Nil(t, decision.LimitPrice)
			assert.Equal(t, tt.reason, decision.Reason)
		})
	}
}

func TestSmartPricer_SlippageBoundRepricesAtMid(t *testing.T) {
	// 20 bps bound on a $20 stock allows 4 cents off mid; a wide book
	// would otherwise place the BUY 11 cents below mid.
	pricer := NewSmartPricer(d("20"), testLogger())
	q := quote("20.00", "20.25")

	decision := pricer.Price(domain.SideBuy, &q, domain.UrgencyLow)
	require.NotNil(t, decision.LimitPrice)
	assert.Equal(t, "slippage_repriced", decision.Reason)
	// mid = 20.125, rounded to 20.13, inside the book
	assert.True(t, decision.LimitPrice.Equal(d("20.13")), "got %s", decision.LimitPrice)
}

func TestAggressivePrice(t *testing.T) {
	q := quote("99.98", "100.02")
	assert.True(t, AggressivePrice(domain.SideBuy, q).Equal(d("100.03")))
	assert.True(t, AggressivePrice(domain.SideSell, q).Equal(d("99.97")))

	// Sells never price at or below zero
	penny := quote("0.01", "0.05")
	assert.True(t, AggressivePrice(domain.SideSell, penny).Equal(d("0.01")))
}
