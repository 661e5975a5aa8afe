// Package signals consolidates per-strategy signals into a single target
// portfolio weight vector with per-symbol strategy attribution.
package signals

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// PortfolioSentinel is the placeholder symbol some strategy DSLs emit for
// the portfolio container itself. It never receives direct allocation.
const PortfolioSentinel = "PORT"

var (
	sumLowerBound = decimal.RequireFromString("0.99")
	sumUpperBound = decimal.RequireFromString("1.01")
)

// Aggregator consolidates strategy signals. It is a pure function of its
// inputs; the struct only carries configuration and a logger.
type Aggregator struct {
	cashProxySymbol   string
	maxPositionWeight decimal.Decimal
	log               zerolog.Logger
}

// NewAggregator creates a signal aggregator
func NewAggregator(cashProxySymbol string, maxPositionWeight decimal.Decimal, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		cashProxySymbol:   cashProxySymbol,
		maxPositionWeight: maxPositionWeight,
		log:               log.With().Str("service", "signal_aggregator").Logger(),
	}
}

// Aggregate combines per-strategy signals with the strategy allocation
// fractions into a consolidated portfolio.
//
// BUY signals contribute target_allocation x strategy_weight to the symbol;
// multiple strategies sum. SELL signals do not subtract: a symbol with only
// SELL signals is simply absent from the target, which the planner turns
// into a liquidation. HOLD signals are informational.
//
// Strategies are processed in lexicographic name order so that
// primary-strategy attribution (first contributor) is deterministic.
func (a *Aggregator) Aggregate(
	signalsByStrategy map[domain.StrategyID][]domain.StrategySignal,
	strategyWeights map[domain.StrategyID]decimal.Decimal,
) domain.ConsolidatedPortfolio {
	consolidated := domain.NewConsolidatedPortfolio()

	strategies := make([]domain.StrategyID, 0, len(signalsByStrategy))
	for id := range signalsByStrategy {
		strategies = append(strategies, id)
	}
	sort.Slice(strategies, func(i, j int) bool { return strategies[i] < strategies[j] })

	buySeen := false
	for _, strategyID := range strategies {
		weight, ok := strategyWeights[strategyID]
		if !ok || !weight.IsPositive() {
			a.log.Warn().
				Str("strategy", string(strategyID)).
				Msg("No positive allocation weight for strategy, skipping its signals")
			continue
		}

		for _, sig := range signalsByStrategy[strategyID] {
			if err := sig.Validate(); err != nil {
				a.log.Error().
					Err(err).
					Str("strategy", string(strategyID)).
					Str("symbol", sig.Symbol).
					Msg("Rejecting invalid signal")
				continue
			}

			if sig.Action != domain.ActionBuy {
				continue
			}
			if sig.Symbol == PortfolioSentinel {
				continue
			}

			buySeen = true
			consolidated.AddContribution(sig.Symbol, sig.TargetAllocation.Mul(weight), strategyID)
		}
	}

	// Defensive cash fallback: no BUY signal anywhere means the whole
	// portfolio parks in the cash proxy.
	if !buySeen {
		a.log.Info().
			Str("cash_proxy", a.cashProxySymbol).
			Msg("No BUY signals received, falling back to defensive cash position")
		consolidated.AddContribution(a.cashProxySymbol, decimal.NewFromInt(1), domain.StrategyDefault)
		return consolidated
	}

	a.validate(consolidated)
	return consolidated
}

// validate warns on weight-sum drift and position-cap breaches. The
// planner enforces the hard bounds; the aggregator only surfaces them.
func (a *Aggregator) validate(c domain.ConsolidatedPortfolio) {
	total := c.TotalWeight()
	if total.LessThan(sumLowerBound) || total.GreaterThan(sumUpperBound) {
		a.log.Warn().
			Str("total_weight", total.String()).
			Msg("Consolidated weights outside [0.99, 1.01]")
	}
	for symbol, w := range c.Weights {
		if w.GreaterThan(a.maxPositionWeight) {
			a.log.Warn().
				Str("symbol", symbol).
				Str("weight", w.String()).
				Str("cap", a.maxPositionWeight.String()).
				Msg("Symbol weight exceeds position cap")
		}
	}
}
