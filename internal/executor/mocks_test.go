package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// mockBroker is an in-memory AccountPort. Orders fill immediately and
// fully at the symbol's configured price unless a script overrides the
// behavior per symbol.
type mockBroker struct {
	mu sync.Mutex

	snapshot   *domain.AccountSnapshot
	positions  []domain.Position
	openOrders []domain.OrderDescriptor

	prices     map[string]decimal.Decimal
	submitErr  map[string]error              // symbol -> error returned by SubmitOrder
	stuckState map[string]domain.OrderStatus // orderID -> status that never settles

	submitted  []domain.OrderRequest
	liquidated []string
	canceled   []string
	orders     map[string]*domain.OrderDescriptor

	// afterSnapshot lets tests mutate the snapshot between refreshes
	afterSnapshot func(*domain.AccountSnapshot)

	nextID int
}

func newMockBroker(snapshot *domain.AccountSnapshot, prices map[string]decimal.Decimal) *mockBroker {
	return &mockBroker{
		snapshot: snapshot,
		prices:   prices,
		orders:   make(map[string]*domain.OrderDescriptor),
	}
}

func (b *mockBroker) GetAccountSnapshot(ctx context.Context) (*domain.AccountSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := *b.snapshot
	if b.afterSnapshot != nil {
		b.afterSnapshot(&snap)
	}
	return &snap, nil
}

func (b *mockBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Position(nil), b.positions...), nil
}

func (b *mockBroker) GetOpenOrders(ctx context.Context) ([]domain.OrderDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.OrderDescriptor(nil), b.openOrders...), nil
}

func (b *mockBroker) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.canceled = append(b.canceled, orderID)
	return true, nil
}

func (b *mockBroker) LiquidatePosition(ctx context.Context, symbol string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.liquidated = append(b.liquidated, symbol)

	qty := decimal.Zero
	for _, p := range b.positions {
		if p.Symbol == symbol {
			qty = p.Quantity
		}
	}
	id := b.newOrderLocked(symbol, domain.SideSell, qty)
	return id, nil
}

func (b *mockBroker) SubmitOrder(ctx context.Context, req domain.OrderRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.submitErr[req.Symbol]; ok && err != nil {
		return "", err
	}
	b.submitted = append(b.submitted, req)

	qty := decimal.Zero
	price := b.prices[req.Symbol]
	switch {
	case req.Quantity != nil:
		qty = *req.Quantity
	case req.Notional != nil && price.IsPositive():
		qty = req.Notional.Div(price)
	}
	return b.newOrderLocked(req.Symbol, req.Side, qty), nil
}

func (b *mockBroker) GetOrderStatus(ctx context.Context, orderID string) (*domain.OrderDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	desc, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	copied := *desc
	return &copied, nil
}

// newOrderLocked records an immediately-filled order unless the test
// marked the symbol's orders as stuck
func (b *mockBroker) newOrderLocked(symbol string, side domain.OrderSide, qty decimal.Decimal) string {
	b.nextID++
	id := fmt.Sprintf("ord-%d", b.nextID)
	desc := &domain.OrderDescriptor{
		ID:             id,
		Symbol:         symbol,
		Side:           side,
		Status:         domain.OrderStatusFilled,
		FilledQty:      qty,
		FilledAvgPrice: b.prices[symbol],
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if status, ok := b.stuckState[symbol]; ok {
		desc.Status = status
		desc.FilledQty = decimal.Zero
		desc.FilledAvgPrice = decimal.Zero
	}
	b.orders[id] = desc
	return id
}

// setOrderStatus rewrites an order's descriptor, used by settlement tests
func (b *mockBroker) setOrderStatus(orderID string, status domain.OrderStatus, qty, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if desc, ok := b.orders[orderID]; ok {
		desc.Status = status
		desc.FilledQty = qty
		desc.FilledAvgPrice = price
		desc.UpdatedAt = time.Now().UTC()
	}
}

// mockMarketData is an in-memory MarketDataPort
type mockMarketData struct {
	prices          map[string]decimal.Decimal
	quotes          map[string]domain.Quote
	nonFractionable map[string]bool
}

func newMockMarketData(prices map[string]decimal.Decimal) *mockMarketData {
	return &mockMarketData{
		prices:          prices,
		quotes:          make(map[string]domain.Quote),
		nonFractionable: make(map[string]bool),
	}
}

func (m *mockMarketData) GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (m *mockMarketData) GetLatestQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if q, ok := m.quotes[symbol]; ok {
		return &q, nil
	}
	// synthesize a two-cent book around the last price
	price, ok := m.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote for %s", symbol)
	}
	return &domain.Quote{
		Symbol: symbol,
		Bid:    price.Sub(d("0.01")),
		Ask:    price.Add(d("0.01")),
	}, nil
}

func (m *mockMarketData) IsFractionable(ctx context.Context, symbol string) (bool, error) {
	return !m.nonFractionable[symbol], nil
}
