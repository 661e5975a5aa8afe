package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/polystrat/polystrat/internal/domain"
)

// SettlementResult reports the outcome of a settlement wait
type SettlementResult struct {
	AllSettled bool
	Statuses   map[string]domain.OrderStatus // orderID -> last observed status
	Pending    []string                      // orderIDs that never settled
}

// StatusSource supplies out-of-band order statuses, typically fed by the
// broker's trade-update stream
type StatusSource interface {
	OrderStatus(orderID string) (domain.OrderStatus, bool)
}

// SettlementWaiter polls order statuses until all reach a settled state or
// the timeout expires. Pending orders are never canceled here, they may
// still fill at the broker.
type SettlementWaiter struct {
	account      domain.AccountPort
	hints        StatusSource
	maxWait      time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewSettlementWaiter creates a waiter with the given timeout and poll cadence
func NewSettlementWaiter(account domain.AccountPort, maxWait, pollInterval time.Duration, log zerolog.Logger) *SettlementWaiter {
	return &SettlementWaiter{
		account:      account,
		maxWait:      maxWait,
		pollInterval: pollInterval,
		log:          log.With().Str("service", "settlement_waiter").Logger(),
	}
}

// Wait blocks until every order in orderIDs settles, the timeout expires,
// or the context is canceled. Each poll round queries the still-unsettled
// orders concurrently; a failed status poll leaves the order pending for
// the next round.
func (w *SettlementWaiter) Wait(ctx context.Context, orderIDs []string) SettlementResult {
	result := SettlementResult{
		Statuses: make(map[string]domain.OrderStatus, len(orderIDs)),
	}
	if len(orderIDs) == 0 {
		result.AllSettled = true
		return result
	}

	pending := make(map[string]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		pending[id] = struct{}{}
		result.Statuses[id] = domain.OrderStatusNew
	}

	deadline := time.Now().Add(w.maxWait)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.pollRound(ctx, pending, result.Statuses)
		if len(pending) == 0 {
			result.AllSettled = true
			return result
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
			continue
		}
		break
	}

	for id := range pending {
		result.Pending = append(result.Pending, id)
	}
	w.log.Warn().
		Int("pending", len(result.Pending)).
		Dur("max_wait", w.maxWait).
		Msg("Settlement wait expired with orders still pending, leaving them to the broker")
	return result
}

// WithStatusSource attaches a fast-path status feed checked before each
// REST poll
func (w *SettlementWaiter) WithStatusSource(src StatusSource) *SettlementWaiter {
	w.hints = src
	return w
}

// pollRound queries every pending order once and removes the settled ones
func (w *SettlementWaiter) pollRound(ctx context.Context, pending map[string]struct{}, statuses map[string]domain.OrderStatus) {
	if w.hints != nil {
		for id := range pending {
			if status, ok := w.hints.OrderStatus(id); ok {
				statuses[id] = status
				if status.IsSettled() {
					delete(pending, id)
				}
			}
		}
		if len(pending) == 0 {
			return
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for id := range pending {
		orderID := id
		g.Go(func() error {
			desc, err := w.account.GetOrderStatus(gctx, orderID)
			if err != nil {
				w.log.Debug().Err(err).Str("order_id", orderID).Msg("Order status poll failed")
				return nil
			}
			mu.Lock()
			statuses[orderID] = desc.Status
			if desc.Status.IsSettled() {
				delete(pending, orderID)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}
