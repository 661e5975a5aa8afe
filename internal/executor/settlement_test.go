package executor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/domain"
)

func submitN(t *testing.T, broker *mockBroker, symbols ...string) []string {
	t.Helper()
	ids := make([]string, 0, len(symbols))
	for _, s := range symbols {
		qty := d("1")
		id, err := broker.SubmitOrder(context.Background(), domain.OrderRequest{
			Symbol: s, Side: domain.SideBuy, Quantity: &qty,
			Type: domain.OrderTypeMarket, TimeInForce: domain.TIFDay,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestSettlementWaiter_AllSettledImmediately(t *testing.T) {
	broker := newMockBroker(nil, map[string]decimal.Decimal{"AAPL": d("150"), "MSFT": d("300")})
	ids := submitN(t, broker, "AAPL", "MSFT")

	waiter := NewSettlementWaiter(broker, 200*time.Millisecond, 5*time.Millisecond, testLogger())
	result := waiter.Wait(context.Background(), ids)

	assert.True(t, result.AllSettled)
	assert.Empty(t, result.Pending)
	for _, id := range ids {
		assert.Equal(t, domain.OrderStatusFilled, result.Statuses[id])
	}
}

func TestSettlementWaiter_EmptyInput(t *testing.T) {
	broker := newMockBroker(nil, nil)
	waiter := NewSettlementWaiter(broker, time.Second, time.Millisecond, testLogger())
	result := waiter.Wait(context.Background(), nil)
	assert.True(t, result.AllSettled)
}

func TestSettlementWaiter_TimeoutLeavesPending(t *testing.T) {
	broker := newMockBroker(nil, map[string]decimal.Decimal{"AAPL": d("150"), "SPY": d("400")})
	broker.stuckState = map[string]domain.OrderStatus{"SPY": domain.OrderStatusAccepted}
	ids := submitN(t, broker, "AAPL", "SPY")

	waiter := NewSettlementWaiter(broker, 30*time.Millisecond, 5*time.Millisecond, testLogger())
	result := waiter.Wait(context.Background(), ids)

	assert.False(t, result.AllSettled)
	require.Len(t, result.Pending, 1)
	assert.Equal(t, ids[1], result.Pending[0])
	assert.Equal(t, domain.OrderStatusFilled, result.Statuses[ids[0]])
	assert.Equal(t, domain.OrderStatusAccepted, result.Statuses[ids[1]])
}

func TestSettlementWaiter_SettlesWhenStatusFlips(t *testing.T) {
	broker := newMockBroker(nil, map[string]decimal.Decimal{"SPY": d("400")})
	broker.stuckState = map[string]domain.OrderStatus{"SPY": domain.OrderStatusAccepted}
	ids := submitN(t, broker, "SPY")

	go func() {
		time.Sleep(20 * time.Millisecond)
		broker.setOrderStatus(ids[0], domain.OrderStatusFilled, d("1"), d("400"))
	}()

	waiter := NewSettlementWaiter(broker, 500*time.Millisecond, 5*time.Millisecond, testLogger())
	result := waiter.Wait(context.Background(), ids)

	assert.True(t, result.AllSettled)
	assert.Equal(t, domain.OrderStatusFilled, result.Statuses[ids[0]])
}

func TestSettlementWaiter_PartialFillCountsAsSettled(t *testing.T) {
	broker := newMockBroker(nil, map[string]decimal.Decimal{"SPY": d("400")})
	broker.stuckState = map[string]domain.OrderStatus{"SPY": domain.OrderStatusPartiallyFilled}
	ids := submitN(t, broker, "SPY")

	waiter := NewSettlementWaiter(broker, 200*time.Millisecond, 5*time.Millisecond, testLogger())
	result := waiter.Wait(context.Background(), ids)

	assert.True(t, result.AllSettled)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, result.Statuses[ids[0]])
}
