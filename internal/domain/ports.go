package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a top-of-book bid/ask snapshot
type Quote struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskSize   decimal.Decimal `json:"ask_size"`
	Timestamp time.Time       `json:"timestamp"`
}

// Spread returns ask - bid
func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// Mid returns the bid/ask midpoint
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// Usable reports whether the quote can price a limit order:
// both sides positive and bid strictly below ask.
func (q Quote) Usable() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive() && q.Bid.LessThan(q.Ask)
}

// AccountPort abstracts the brokerage account. All methods may block and
// must be called under a context timeout. Implementations own their locking.
type AccountPort interface {
	GetAccountSnapshot(ctx context.Context) (*AccountSnapshot, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetOpenOrders(ctx context.Context) ([]OrderDescriptor, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	// LiquidatePosition closes an entire position via the broker primitive,
	// returning the resulting order ID.
	LiquidatePosition(ctx context.Context, symbol string) (string, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderDescriptor, error)
}

// MarketDataPort supplies prices, quotes, and fractionability.
// Implementations carry a short-TTL cache internally (~60s).
type MarketDataPort interface {
	GetCurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetLatestQuote(ctx context.Context, symbol string) (*Quote, error)
	IsFractionable(ctx context.Context, symbol string) (bool, error)
}

// Strategy is the single capability a strategy engine exposes. Strategies
// are black boxes registered by name; the engine asks each for signals
// once per run.
type Strategy interface {
	Name() StrategyID
	GenerateSignals(ctx context.Context, asOf time.Time, marketData MarketDataPort) ([]StrategySignal, error)
}
