package tracker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// GetStrategyPnL computes the P&L view for one strategy at the given
// prices. Symbols without a price contribute zero unrealized P&L.
func (t *Tracker) GetStrategyPnL(strategy domain.StrategyID, currentPrices map[string]decimal.Decimal) domain.StrategyPnL {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pnlLocked(strategy, currentPrices)
}

// AllStrategyPnL computes P&L for every strategy with recorded activity,
// sorted by strategy name
func (t *Tracker) AllStrategyPnL(currentPrices map[string]decimal.Decimal) []domain.StrategyPnL {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[domain.StrategyID]struct{})
	for strategy := range t.positions {
		seen[strategy] = struct{}{}
	}
	for strategy := range t.realized {
		seen[strategy] = struct{}{}
	}

	names := make([]domain.StrategyID, 0, len(seen))
	for strategy := range seen {
		names = append(names, strategy)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	out := make([]domain.StrategyPnL, 0, len(names))
	for _, strategy := range names {
		out = append(out, t.pnlLocked(strategy, currentPrices))
	}
	return out
}

func (t *Tracker) pnlLocked(strategy domain.StrategyID, currentPrices map[string]decimal.Decimal) domain.StrategyPnL {
	pnl := domain.StrategyPnL{
		StrategyID:      strategy,
		RealizedPnL:     t.realizedFor(strategy),
		UnrealizedPnL:   decimal.Zero,
		AllocationValue: decimal.Zero,
		AsOf:            t.now().UTC(),
	}

	symbols := make([]string, 0, len(t.positions[strategy]))
	for symbol := range t.positions[strategy] {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := t.positions[strategy][symbol]
		if !pos.Quantity.IsPositive() {
			continue
		}
		pnl.Positions = append(pnl.Positions, pos)
		if price, ok := currentPrices[symbol]; ok && price.IsPositive() {
			pnl.UnrealizedPnL = pnl.UnrealizedPnL.Add(pos.UnrealizedPnL(price))
			pnl.AllocationValue = pnl.AllocationValue.Add(pos.MarketValue(price))
		}
	}

	pnl.TotalPnL = pnl.RealizedPnL.Add(pnl.UnrealizedPnL)
	if pnl.AllocationValue.IsPositive() {
		pnl.TotalReturnPct = pnl.TotalPnL.Div(pnl.AllocationValue)
	}
	return pnl
}

// ArchiveDailyPnL writes a dated P&L snapshot to the object store.
// Idempotent per UTC date: an existing archive for today is left alone.
func (t *Tracker) ArchiveDailyPnL(ctx context.Context, currentPrices map[string]decimal.Decimal) error {
	dateKey := t.now().UTC().Format("2006-01-02")
	key := fmt.Sprintf("%s/%s.json", pnlHistoryDir, dateKey)

	exists, err := t.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("checking archive %s: %w", dateKey, err)
	}
	if exists {
		t.log.Debug().Str("date", dateKey).Msg("Daily P&L already archived")
		return nil
	}

	doc := pnlArchiveDoc{
		Date:        dateKey,
		Strategies:  make(map[string]strategyPnLDTO),
		GeneratedAt: t.now().UTC().Format(time.RFC3339),
	}
	for _, pnl := range t.AllStrategyPnL(currentPrices) {
		doc.Strategies[string(pnl.StrategyID)] = pnlToDTO(pnl)
	}

	if err := t.putJSON(ctx, key, doc); err != nil {
		return err
	}
	t.log.Info().Str("date", dateKey).Int("strategies", len(doc.Strategies)).Msg("Daily P&L archived")
	return nil
}
