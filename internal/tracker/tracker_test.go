package tracker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/storage"
	"github.com/polystrat/polystrat/pkg/logger"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() zerolog.Logger {
	return logger.New(logger.Config{Level: "error", Pretty: false})
}

func newTestTracker(t *testing.T) (*Tracker, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewTracker(context.Background(), store, 0, testLogger()), store
}

func TestTracker_BuyBlendsAverageCost(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyNuclear, "SMR", "BUY", d("100"), d("50")))
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyNuclear, "SMR", "BUY", d("100"), d("70")))

	pos, ok := tr.Position(domain.StrategyNuclear, "SMR")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("200")))
	assert.True(t, pos.TotalCost.Equal(d("12000")))
	assert.True(t, pos.AverageCost.Equal(d("60")))
}

func TestTracker_PartialSellRealizesAgainstAverageCost(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	// S6: NUCLEAR buys 100 SMR @ 50, sells 40 @ 60
	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyNuclear, "SMR", "BUY", d("100"), d("50")))
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyNuclear, "SMR", "SELL", d("40"), d("60")))

	pnl := tr.GetStrategyPnL(domain.StrategyNuclear, nil)
	assert.True(t, pnl.RealizedPnL.Equal(d("400")), "40 x (60-50), got %s", pnl.RealizedPnL)

	pos, ok := tr.Position(domain.StrategyNuclear, "SMR")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("60")))
	assert.True(t, pos.AverageCost.Equal(d("50")), "average cost unchanged by sells")
	assert.True(t, pos.TotalCost.Equal(d("3000")))

	// Second SELL of the remainder at a loss closes the position
	require.NoError(t, tr.RecordOrder(ctx, "o3", domain.StrategyNuclear, "SMR", "SELL", d("60"), d("45")))
	pnl = tr.GetStrategyPnL(domain.StrategyNuclear, nil)
	assert.True(t, pnl.RealizedPnL.Equal(d("100")), "400 - 300, got %s", pnl.RealizedPnL)

	pos, ok = tr.Position(domain.StrategyNuclear, "SMR")
	require.True(t, ok)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.TotalCost.IsZero())
	assert.True(t, pos.AverageCost.IsZero())
}

func TestTracker_FullRoundTripZeroesPosition(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyTECL, "TECL", "BUY", d("12.5"), d("80")))
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyTECL, "TECL", "SELL", d("12.5"), d("80")))

	pos, ok := tr.Position(domain.StrategyTECL, "TECL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.IsZero())
	assert.True(t, pos.TotalCost.IsZero())

	pnl := tr.GetStrategyPnL(domain.StrategyTECL, nil)
	assert.True(t, pnl.RealizedPnL.IsZero())
}

func TestTracker_OversellClampsCostBasis(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyKLM, "KLM", "BUY", d("10"), d("100")))
	// Broker filled more than the strategy's book held
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyKLM, "KLM", "SELL", d("12"), d("110")))

	pnl := tr.GetStrategyPnL(domain.StrategyKLM, nil)
	// proceeds 1320 - basis 1000
	assert.True(t, pnl.RealizedPnL.Equal(d("320")), "got %s", pnl.RealizedPnL)
	pos, _ := tr.Position(domain.StrategyKLM, "KLM")
	assert.True(t, pos.Quantity.IsZero())
}

func TestTracker_SellApportionedAcrossHolders(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyNuclear, "SMR", "BUY", d("60"), d("50")))
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyKLM, "SMR", "BUY", d("40"), d("40")))

	// Planner sold 50 of the total 100 held; fill attribution is DEFAULT
	require.NoError(t, tr.RecordFill(ctx, domain.FilledOrder{
		OrderID:        "o3",
		Symbol:         "SMR",
		Side:           domain.SideSell,
		FilledQty:      d("50"),
		FilledAvgPrice: d("60"),
		StrategyID:     domain.StrategyDefault,
	}))

	// 30 shares from NUCLEAR (60% holder), 20 from KLM
	nuclear, _ := tr.Position(domain.StrategyNuclear, "SMR")
	assert.True(t, nuclear.Quantity.Equal(d("30")), "got %s", nuclear.Quantity)
	klm, _ := tr.Position(domain.StrategyKLM, "SMR")
	assert.True(t, klm.Quantity.Equal(d("20")), "got %s", klm.Quantity)

	assert.True(t, tr.GetStrategyPnL(domain.StrategyNuclear, nil).RealizedPnL.Equal(d("300")), "30 x (60-50)")
	assert.True(t, tr.GetStrategyPnL(domain.StrategyKLM, nil).RealizedPnL.Equal(d("400")), "20 x (60-40)")
	assert.True(t, tr.GetStrategyPnL(domain.StrategyDefault, nil).RealizedPnL.IsZero(),
		"attributed strategy holds nothing, receives nothing")
}

func TestTracker_SellOfUntrackedSymbolFallsBackToFillStrategy(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordFill(ctx, domain.FilledOrder{
		OrderID:        "o1",
		Symbol:         "SPY",
		Side:           domain.SideSell,
		FilledQty:      d("10"),
		FilledAvgPrice: d("500"),
		StrategyID:     domain.StrategyDefault,
	}))

	// Untracked position: proceeds realize in full against zero basis
	assert.True(t, tr.GetStrategyPnL(domain.StrategyDefault, nil).RealizedPnL.Equal(d("5000")))
}

func TestTracker_RejectsNonPositiveInputs(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	assert.Error(t, tr.RecordOrder(ctx, "o1", domain.StrategyKLM, "KLM", "BUY", decimal.Zero, d("10")))
	assert.Error(t, tr.RecordOrder(ctx, "o2", domain.StrategyKLM, "KLM", "BUY", d("1"), decimal.Zero))
	assert.Error(t, tr.RecordOrder(ctx, "o3", domain.StrategyKLM, "KLM", "TRIM", d("1"), d("10")))
}

func TestTracker_PersistsAndReloads(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	tr := NewTracker(ctx, store, 0, testLogger())
	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyNuclear, "SMR", "BUY", d("100"), d("50")))
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyNuclear, "SMR", "SELL", d("40"), d("60")))

	reloaded := NewTracker(ctx, store, 0, testLogger())
	pos, ok := reloaded.Position(domain.StrategyNuclear, "SMR")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("60")))
	assert.True(t, pos.AverageCost.Equal(d("50")))

	pnl := reloaded.GetStrategyPnL(domain.StrategyNuclear, nil)
	assert.True(t, pnl.RealizedPnL.Equal(d("400")))

	orders := reloaded.RecentOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, "o1", orders[0].OrderID)
	assert.Equal(t, "SELL", orders[1].Side)
}

func TestTracker_OrderLogIsBounded(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	tr := NewTracker(ctx, store, 5, testLogger())

	for i := 0; i < 8; i++ {
		require.NoError(t, tr.RecordOrder(ctx, "o", domain.StrategyDefault, "BIL", "BUY", d("1"), d("100")))
	}
	assert.Len(t, tr.RecentOrders(), 5)
}

func TestTracker_CorruptDocumentFallsBackToEmpty(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, keyCurrentPositions, []byte("{not json")))
	require.NoError(t, store.Put(ctx, keyRealizedPnL, []byte(`{"NUCLEAR":"not-a-decimal"}`)))

	tr := NewTracker(ctx, store, 0, testLogger())
	assert.Empty(t, tr.OpenPositions())
	assert.True(t, tr.GetStrategyPnL(domain.StrategyNuclear, nil).RealizedPnL.IsZero())
}

func TestTracker_UnrealizedPnLFromPrices(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyNuclear, "SMR", "BUY", d("100"), d("50")))
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyNuclear, "OKLO", "BUY", d("20"), d("10")))

	prices := map[string]decimal.Decimal{"SMR": d("55"), "OKLO": d("8")}
	pnl := tr.GetStrategyPnL(domain.StrategyNuclear, prices)

	// 100x(55-50) + 20x(8-10) = 500 - 40
	assert.True(t, pnl.UnrealizedPnL.Equal(d("460")), "got %s", pnl.UnrealizedPnL)
	assert.True(t, pnl.AllocationValue.Equal(d("5660")), "100x55 + 20x8, got %s", pnl.AllocationValue)
	assert.True(t, pnl.TotalPnL.Equal(d("460")))
	assert.True(t, pnl.TotalReturnPct.Equal(d("460").Div(d("5660"))))
}

func TestTracker_ArchiveDailyPnLIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	tr := NewTracker(ctx, store, 0, testLogger())
	require.NoError(t, tr.RecordOrder(ctx, "o1", domain.StrategyNuclear, "SMR", "BUY", d("10"), d("50")))

	prices := map[string]decimal.Decimal{"SMR": d("60")}
	require.NoError(t, tr.ArchiveDailyPnL(ctx, prices))

	var archiveKey string
	for _, key := range store.Keys() {
		if len(key) > len(pnlHistoryDir) && key[:len(pnlHistoryDir)] == pnlHistoryDir {
			archiveKey = key
		}
	}
	require.NotEmpty(t, archiveKey)
	first, err := store.Get(ctx, archiveKey)
	require.NoError(t, err)

	// A later archive call on the same date must not rewrite the object
	require.NoError(t, tr.RecordOrder(ctx, "o2", domain.StrategyNuclear, "SMR", "SELL", d("10"), d("70")))
	require.NoError(t, tr.ArchiveDailyPnL(ctx, prices))
	second, err := store.Get(ctx, archiveKey)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
