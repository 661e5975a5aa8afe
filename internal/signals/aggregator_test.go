package signals

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newAggregator() *Aggregator {
	return NewAggregator("BIL", d("1.0"), zerolog.Nop())
}

func buySignal(t *testing.T, strategy domain.StrategyID, symbol, target string) domain.StrategySignal {
	t.Helper()
	sig, err := domain.NewStrategySignal(strategy, symbol, domain.ActionBuy, d("0.9"), d(target), "", time.Now())
	require.NoError(t, err)
	return sig
}

func TestAggregate_SingleStrategy(t *testing.T) {
	agg := newAggregator()

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyNuclear: {
			buySignal(t, domain.StrategyNuclear, "AAPL", "0.6"),
			buySignal(t, domain.StrategyNuclear, "MSFT", "0.4"),
		},
	}
	weights := map[domain.StrategyID]decimal.Decimal{domain.StrategyNuclear: d("1.0")}

	out := agg.Aggregate(signals, weights)
	assert.True(t, out.Weights["AAPL"].Equal(d("0.6")))
	assert.True(t, out.Weights["MSFT"].Equal(d("0.4")))
	assert.Equal(t, domain.StrategyNuclear, out.PrimaryStrategy("AAPL", domain.StrategyDefault))
}

func TestAggregate_MultipleStrategiesSumContributions(t *testing.T) {
	agg := newAggregator()

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyNuclear: {buySignal(t, domain.StrategyNuclear, "TECL", "1.0")},
		domain.StrategyTECL:    {buySignal(t, domain.StrategyTECL, "TECL", "1.0")},
	}
	weights := map[domain.StrategyID]decimal.Decimal{
		domain.StrategyNuclear: d("0.5"),
		domain.StrategyTECL:    d("0.5"),
	}

	out := agg.Aggregate(signals, weights)
	assert.True(t, out.Weights["TECL"].Equal(d("1.0")))
	// Lexicographic strategy order makes NUCLEAR the first contributor
	assert.Equal(t, domain.StrategyNuclear, out.PrimaryStrategy("TECL", domain.StrategyDefault))
	assert.Equal(t, []domain.StrategyID{domain.StrategyNuclear, domain.StrategyTECL}, out.Contributors["TECL"])
}

func TestAggregate_SellSignalsOmitSymbol(t *testing.T) {
	agg := newAggregator()

	sell, err := domain.NewStrategySignal(domain.StrategyKLM, "SPY", domain.ActionSell, d("1"), d("0"), "exit", time.Now())
	require.NoError(t, err)

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyKLM: {sell, buySignal(t, domain.StrategyKLM, "QQQ", "1.0")},
	}
	weights := map[domain.StrategyID]decimal.Decimal{domain.StrategyKLM: d("1.0")}

	out := agg.Aggregate(signals, weights)
	_, hasSPY := out.Weights["SPY"]
	assert.False(t, hasSPY)
	assert.True(t, out.Weights["QQQ"].Equal(d("1.0")))
}

func TestAggregate_NoBuySignals_DefensiveCash(t *testing.T) {
	agg := newAggregator()

	hold, err := domain.NewStrategySignal(domain.StrategyTECL, "TECL", domain.ActionHold, d("0.5"), d("0"), "", time.Now())
	require.NoError(t, err)

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyTECL: {hold},
	}
	weights := map[domain.StrategyID]decimal.Decimal{domain.StrategyTECL: d("1.0")}

	out := agg.Aggregate(signals, weights)
	require.Len(t, out.Weights, 1)
	assert.True(t, out.Weights["BIL"].Equal(d("1.0")))
	assert.Equal(t, domain.StrategyDefault, out.PrimaryStrategy("BIL", domain.StrategyDefault))
}

func TestAggregate_EmptyInput_DefensiveCash(t *testing.T) {
	agg := newAggregator()
	out := agg.Aggregate(nil, nil)
	require.Len(t, out.Weights, 1)
	assert.True(t, out.Weights["BIL"].Equal(d("1.0")))
}

func TestAggregate_InvalidSignalRejectedOthersKept(t *testing.T) {
	agg := newAggregator()

	// Construct an invalid signal directly, bypassing the validated ctor
	invalid := domain.StrategySignal{
		Symbol:           "AAPL",
		Action:           domain.ActionBuy,
		Confidence:       d("2.0"), // out of range
		TargetAllocation: d("0.5"),
		StrategyID:       domain.StrategyNuclear,
	}

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyNuclear: {invalid, buySignal(t, domain.StrategyNuclear, "MSFT", "0.5")},
	}
	weights := map[domain.StrategyID]decimal.Decimal{domain.StrategyNuclear: d("1.0")}

	out := agg.Aggregate(signals, weights)
	_, hasAAPL := out.Weights["AAPL"]
	assert.False(t, hasAAPL)
	assert.True(t, out.Weights["MSFT"].Equal(d("0.5")))
}

func TestAggregate_PortfolioSentinelExcluded(t *testing.T) {
	agg := newAggregator()

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyKLM: {
			buySignal(t, domain.StrategyKLM, "PORT", "0.5"),
			buySignal(t, domain.StrategyKLM, "KMLM", "0.5"),
		},
	}
	weights := map[domain.StrategyID]decimal.Decimal{domain.StrategyKLM: d("1.0")}

	out := agg.Aggregate(signals, weights)
	_, hasPort := out.Weights["PORT"]
	assert.False(t, hasPort)
	assert.True(t, out.Weights["KMLM"].Equal(d("0.5")))
}

func TestAggregate_UnweightedStrategySkipped(t *testing.T) {
	agg := newAggregator()

	signals := map[domain.StrategyID][]domain.StrategySignal{
		domain.StrategyNuclear: {buySignal(t, domain.StrategyNuclear, "SMR", "1.0")},
		domain.StrategyTECL:    {buySignal(t, domain.StrategyTECL, "TECL", "1.0")},
	}
	weights := map[domain.StrategyID]decimal.Decimal{domain.StrategyNuclear: d("0.5")}

	out := agg.Aggregate(signals, weights)
	assert.True(t, out.Weights["SMR"].Equal(d("0.5")))
	_, hasTECL := out.Weights["TECL"]
	assert.False(t, hasTECL)
}
