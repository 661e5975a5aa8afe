// Package tracker maintains per-strategy positions, cost basis, and
// realized P&L, persisting every mutation to durable object storage.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/storage"
)

// DefaultRecentOrders bounds the persisted order log
const DefaultRecentOrders = 1000

// Tracker is the per-deployment-mode strategy accounting singleton.
// A single mutex guards the in-memory state; persistence writes happen
// after the state is updated and the lock released.
type Tracker struct {
	mu        sync.Mutex
	positions map[domain.StrategyID]map[string]domain.StrategyPosition
	realized  map[domain.StrategyID]decimal.Decimal
	recent    []OrderRecord
	maxRecent int
	store     storage.ObjectStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewTracker loads persisted state from the store. Missing objects start
// empty; corrupt objects fall back to empty with a data-integrity warning.
func NewTracker(ctx context.Context, store storage.ObjectStore, maxRecent int, log zerolog.Logger) *Tracker {
	if maxRecent <= 0 {
		maxRecent = DefaultRecentOrders
	}
	t := &Tracker{
		positions: make(map[domain.StrategyID]map[string]domain.StrategyPosition),
		realized:  make(map[domain.StrategyID]decimal.Decimal),
		maxRecent: maxRecent,
		store:     store,
		log:       log.With().Str("service", "strategy_tracker").Logger(),
		now:       time.Now,
	}
	t.load(ctx)
	return t
}

// RecordFill applies a confirmed fill. BUYs credit the originating
// strategy. SELLs are apportioned across every strategy holding the
// symbol, proportional to tracked quantity, because the planner sells
// total broker positions regardless of which strategy accumulated them.
func (t *Tracker) RecordFill(ctx context.Context, fill domain.FilledOrder) error {
	if fill.Side != domain.SideSell {
		return t.RecordOrder(ctx, fill.OrderID, fill.StrategyID, fill.Symbol, "BUY", fill.FilledQty, fill.FilledAvgPrice)
	}
	return t.recordSellApportioned(ctx, fill)
}

// recordSellApportioned splits a SELL across holders. The largest holder
// absorbs the rounding remainder and any oversold excess.
func (t *Tracker) recordSellApportioned(ctx context.Context, fill domain.FilledOrder) error {
	if !fill.FilledQty.IsPositive() || !fill.FilledAvgPrice.IsPositive() {
		return fmt.Errorf("SELL %s: quantity and price must be positive, got %s @ %s",
			fill.Symbol, fill.FilledQty, fill.FilledAvgPrice)
	}

	type holder struct {
		strategy domain.StrategyID
		held     decimal.Decimal
	}

	t.mu.Lock()
	var holders []holder
	totalHeld := decimal.Zero
	for strategy, positions := range t.positions {
		if pos, ok := positions[fill.Symbol]; ok && pos.Quantity.IsPositive() {
			holders = append(holders, holder{strategy, pos.Quantity})
			totalHeld = totalHeld.Add(pos.Quantity)
		}
	}
	sort.Slice(holders, func(i, j int) bool {
		if !holders[i].held.Equal(holders[j].held) {
			return holders[i].held.GreaterThan(holders[j].held)
		}
		return holders[i].strategy < holders[j].strategy
	})

	if len(holders) == 0 {
		// Nothing tracked for this symbol: whole sale to the fill's strategy
		t.appendOrderLocked(fill.OrderID, fill.StrategyID, fill.Symbol, "SELL", fill.FilledQty, fill.FilledAvgPrice)
		t.applySellLocked(fill.StrategyID, fill.Symbol, fill.FilledQty, fill.FilledAvgPrice)
		t.mu.Unlock()
		return t.Persist(ctx)
	}

	shares := make([]decimal.Decimal, len(holders))
	allocated := decimal.Zero
	for i, h := range holders {
		shares[i] = fill.FilledQty.Mul(h.held).Div(totalHeld).RoundDown(6)
		allocated = allocated.Add(shares[i])
	}
	shares[0] = shares[0].Add(fill.FilledQty.Sub(allocated))

	for i, h := range holders {
		if !shares[i].IsPositive() {
			continue
		}
		t.appendOrderLocked(fill.OrderID, h.strategy, fill.Symbol, "SELL", shares[i], fill.FilledAvgPrice)
		t.applySellLocked(h.strategy, fill.Symbol, shares[i], fill.FilledAvgPrice)
	}
	t.mu.Unlock()
	return t.Persist(ctx)
}

// RecordOrder appends to the order log and updates the (strategy, symbol)
// position. BUYs blend average cost; SELLs realize P&L against the
// pre-sale average cost.
func (t *Tracker) RecordOrder(ctx context.Context, orderID string, strategy domain.StrategyID, symbol, side string, quantity, price decimal.Decimal) error {
	if !quantity.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("%s %s: quantity and price must be positive, got %s @ %s", side, symbol, quantity, price)
	}

	if side != "BUY" && side != "SELL" {
		return fmt.Errorf("invalid side %q", side)
	}

	t.mu.Lock()
	t.appendOrderLocked(orderID, strategy, symbol, side, quantity, price)
	if side == "BUY" {
		t.applyBuyLocked(strategy, symbol, quantity, price)
	} else {
		t.applySellLocked(strategy, symbol, quantity, price)
	}
	t.mu.Unlock()

	return t.Persist(ctx)
}

func (t *Tracker) appendOrderLocked(orderID string, strategy domain.StrategyID, symbol, side string, quantity, price decimal.Decimal) {
	t.recent = append(t.recent, OrderRecord{
		OrderID:   orderID,
		Strategy:  strategy,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: t.now().UTC(),
	})
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[len(t.recent)-t.maxRecent:]
	}
}

func (t *Tracker) applyBuyLocked(strategy domain.StrategyID, symbol string, quantity, price decimal.Decimal) {
	pos := t.positionLocked(strategy, symbol)
	newTotalCost := pos.TotalCost.Add(quantity.Mul(price))
	newQuantity := pos.Quantity.Add(quantity)

	pos.Quantity = newQuantity
	pos.TotalCost = newTotalCost
	if newQuantity.IsPositive() {
		pos.AverageCost = newTotalCost.Div(newQuantity)
	}
	pos.LastUpdated = t.now().UTC()
	t.positions[strategy][symbol] = pos
}

func (t *Tracker) applySellLocked(strategy domain.StrategyID, symbol string, quantity, price decimal.Decimal) {
	pos := t.positionLocked(strategy, symbol)
	newQuantity := pos.Quantity.Sub(quantity)
	proceeds := quantity.Mul(price)

	if newQuantity.LessThanOrEqual(decimal.Zero) {
		// Full exit. Cost basis covers at most the shares actually held,
		// so an oversell cannot fabricate negative basis.
		soldBasis := pos.AverageCost.Mul(decimal.Min(quantity, pos.Quantity))
		t.realized[strategy] = t.realizedFor(strategy).Add(proceeds.Sub(soldBasis))
		pos.Quantity = decimal.Zero
		pos.AverageCost = decimal.Zero
		pos.TotalCost = decimal.Zero
	} else {
		t.realized[strategy] = t.realizedFor(strategy).Add(quantity.Mul(price.Sub(pos.AverageCost)))
		pos.Quantity = newQuantity
		pos.TotalCost = newQuantity.Mul(pos.AverageCost)
	}
	pos.LastUpdated = t.now().UTC()
	t.positions[strategy][symbol] = pos
}

func (t *Tracker) positionLocked(strategy domain.StrategyID, symbol string) domain.StrategyPosition {
	if t.positions[strategy] == nil {
		t.positions[strategy] = make(map[string]domain.StrategyPosition)
	}
	pos, ok := t.positions[strategy][symbol]
	if !ok {
		pos = domain.StrategyPosition{
			StrategyID:  strategy,
			Symbol:      symbol,
			Quantity:    decimal.Zero,
			AverageCost: decimal.Zero,
			TotalCost:   decimal.Zero,
		}
	}
	return pos
}

func (t *Tracker) realizedFor(strategy domain.StrategyID) decimal.Decimal {
	if v, ok := t.realized[strategy]; ok {
		return v
	}
	return decimal.Zero
}

// Position returns a copy of the (strategy, symbol) position
func (t *Tracker) Position(strategy domain.StrategyID, symbol string) (domain.StrategyPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bySymbol, ok := t.positions[strategy]; ok {
		if pos, ok := bySymbol[symbol]; ok {
			return pos, true
		}
	}
	return domain.StrategyPosition{}, false
}

// OpenPositions returns every position with quantity > 0, sorted by
// strategy then symbol
func (t *Tracker) OpenPositions() []domain.StrategyPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openPositionsLocked()
}

func (t *Tracker) openPositionsLocked() []domain.StrategyPosition {
	var out []domain.StrategyPosition
	for _, bySymbol := range t.positions {
		for _, pos := range bySymbol {
			if pos.Quantity.IsPositive() {
				out = append(out, pos)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StrategyID != out[j].StrategyID {
			return out[i].StrategyID < out[j].StrategyID
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// RecentOrders returns a copy of the bounded order log, oldest first
func (t *Tracker) RecentOrders() []OrderRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]OrderRecord(nil), t.recent...)
}

// Persist writes all three tracking documents to the object store
func (t *Tracker) Persist(ctx context.Context) error {
	t.mu.Lock()
	orders := ordersDoc{Version: 1, Orders: make([]orderDTO, 0, len(t.recent))}
	for _, r := range t.recent {
		orders.Orders = append(orders.Orders, orderToDTO(r))
	}
	positions := positionsDoc{LastUpdated: t.now().UTC().Format(time.RFC3339)}
	for _, pos := range t.openPositionsLocked() {
		positions.Positions = append(positions.Positions, positionToDTO(pos))
	}
	realized := make(map[string]string, len(t.realized))
	for strategy, pnl := range t.realized {
		realized[string(strategy)] = pnl.String()
	}
	t.mu.Unlock()

	if err := t.putJSON(ctx, keyRecentOrders, orders); err != nil {
		return err
	}
	if err := t.putJSON(ctx, keyCurrentPositions, positions); err != nil {
		return err
	}
	return t.putJSON(ctx, keyRealizedPnL, realized)
}

func (t *Tracker) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := t.store.Put(ctx, key, data); err != nil {
		t.log.Error().Err(err).Str("key", key).Msg("Tracking state write failed")
		return err
	}
	return nil
}

// load reads the persisted documents. Each document degrades to empty
// independently.
func (t *Tracker) load(ctx context.Context) {
	var orders ordersDoc
	if t.getJSON(ctx, keyRecentOrders, &orders) {
		for _, dto := range orders.Orders {
			record, err := orderFromDTO(dto)
			if err != nil {
				t.warnCorrupt(keyRecentOrders, err)
				t.recent = nil
				break
			}
			t.recent = append(t.recent, record)
		}
	}

	var positions positionsDoc
	if t.getJSON(ctx, keyCurrentPositions, &positions) {
		for _, dto := range positions.Positions {
			pos, err := positionFromDTO(dto)
			if err != nil {
				t.warnCorrupt(keyCurrentPositions, err)
				t.positions = make(map[domain.StrategyID]map[string]domain.StrategyPosition)
				break
			}
			if t.positions[pos.StrategyID] == nil {
				t.positions[pos.StrategyID] = make(map[string]domain.StrategyPosition)
			}
			t.positions[pos.StrategyID][pos.Symbol] = pos
		}
	}

	realized := make(map[string]string)
	if t.getJSON(ctx, keyRealizedPnL, &realized) {
		for strategy, raw := range realized {
			pnl, err := decimal.NewFromString(raw)
			if err != nil {
				t.warnCorrupt(keyRealizedPnL, err)
				t.realized = make(map[domain.StrategyID]decimal.Decimal)
				break
			}
			t.realized[domain.StrategyID(strategy)] = pnl
		}
	}

	t.log.Info().
		Int("orders", len(t.recent)).
		Int("strategies", len(t.positions)).
		Msg("Strategy tracking state loaded")
}

// getJSON reads and decodes one document, reporting whether usable data
// was found
func (t *Tracker) getJSON(ctx context.Context, key string, v any) bool {
	data, err := t.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.log.Warn().Err(err).Str("key", key).Msg("Tracking state read failed, starting empty")
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.warnCorrupt(key, err)
		return false
	}
	return true
}

func (t *Tracker) warnCorrupt(key string, err error) {
	t.log.Warn().Err(err).Str("key", key).Msg("Corrupt tracking document, falling back to empty state")
}
