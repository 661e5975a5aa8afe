package executor

import (
	"sync"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/polystrat/polystrat/internal/domain"
)

// QualityReport summarizes execution quality for one run. Values are
// diagnostic only and never feed back into order math.
type QualityReport struct {
	Samples        int     `json:"samples"`
	MeanSlipBps    float64 `json:"mean_slippage_bps"`
	StdDevSlipBps  float64 `json:"stddev_slippage_bps"`
	WorstSlipBps   float64 `json:"worst_slippage_bps"`
	MarketOrders   int     `json:"market_orders"`
	LimitOrders    int     `json:"limit_orders"`
	RepricedOrders int     `json:"repriced_orders"`
}

// QualityTracker accumulates per-fill slippage samples across a run.
// Slippage is fill price versus quote mid at decision time, in bps.
type QualityTracker struct {
	mu       sync.Mutex
	slipBps  []float64
	market   int
	limit    int
	repriced int
}

// NewQualityTracker creates an empty tracker
func NewQualityTracker() *QualityTracker {
	return &QualityTracker{}
}

// RecordDecision counts the chosen order type
func (t *QualityTracker) RecordDecision(decision PriceDecision) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if decision.OrderType == domain.OrderTypeMarket {
		t.market++
	} else {
		t.limit++
	}
	if decision.Reason == "slippage_repriced" {
		t.repriced++
	}
}

// RecordFill adds one slippage sample: |fill - mid| / mid in bps.
// Zero or negative mids are skipped.
func (t *QualityTracker) RecordFill(fillPrice, mid decimal.Decimal) {
	if !mid.IsPositive() || !fillPrice.IsPositive() {
		return
	}
	bps, _ := fillPrice.Sub(mid).Abs().Div(mid).Mul(bpsScale).Float64()
	t.mu.Lock()
	t.slipBps = append(t.slipBps, bps)
	t.mu.Unlock()
}

// Report computes the summary statistics for the run so far
func (t *QualityTracker) Report() QualityReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := QualityReport{
		Samples:        len(t.slipBps),
		MarketOrders:   t.market,
		LimitOrders:    t.limit,
		RepricedOrders: t.repriced,
	}
	if len(t.slipBps) > 0 {
		report.MeanSlipBps, report.StdDevSlipBps = stat.MeanStdDev(t.slipBps, nil)
		if len(t.slipBps) == 1 {
			report.StdDevSlipBps = 0
		}
		worst := t.slipBps[0]
		for _, s := range t.slipBps[1:] {
			if s > worst {
				worst = s
			}
		}
		report.WorstSlipBps = worst
	}
	return report
}
