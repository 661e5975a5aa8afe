// Package planner converts a consolidated target portfolio plus an account
// snapshot into an ordered rebalance plan under capital, leverage, and
// minimum-trade constraints.
package planner

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

var (
	weightUpperBound = decimal.RequireFromString("1.01")
	weightLowerBound = decimal.RequireFromString("0.99")
	capitalTolerance = decimal.RequireFromString("0.01") // $0.01
	smallPortfolio   = decimal.NewFromInt(1000)
	onePercent       = decimal.RequireFromString("0.01")
	defaultDrift     = decimal.RequireFromString("0.05")
)

// Planner builds rebalance plans. It is pure: all broker state arrives via
// the snapshot argument.
type Planner struct {
	deploymentPct     decimal.Decimal
	minTradeAmountUSD decimal.Decimal
	utilizationCeil   decimal.Decimal
	maintenanceFloor  decimal.Decimal
	cashProxySymbol   string
	defaultStrategy   domain.StrategyID
	urgency           domain.Urgency
	log               zerolog.Logger
}

// NewPlanner creates a rebalance planner.
// deploymentPct > 1 requests leverage; callers that have leverage disabled
// must clamp it to 1 before constructing the planner.
func NewPlanner(
	deploymentPct decimal.Decimal,
	minTradeAmountUSD decimal.Decimal,
	utilizationCeilingPct decimal.Decimal,
	maintenanceFloorPct decimal.Decimal,
	cashProxySymbol string,
	defaultStrategy domain.StrategyID,
	urgency domain.Urgency,
	log zerolog.Logger,
) *Planner {
	return &Planner{
		deploymentPct:     deploymentPct,
		minTradeAmountUSD: minTradeAmountUSD,
		utilizationCeil:   utilizationCeilingPct,
		maintenanceFloor:  maintenanceFloorPct,
		cashProxySymbol:   cashProxySymbol,
		defaultStrategy:   defaultStrategy,
		urgency:           urgency,
		log:               log.With().Str("service", "rebalance_planner").Logger(),
	}
}

// BuildPlan produces a RebalancePlan from the consolidated target weights
// and the current account snapshot. Any returned error is fatal for the
// run: no partial plans are emitted.
func (p *Planner) BuildPlan(
	consolidated domain.ConsolidatedPortfolio,
	snapshot domain.PortfolioSnapshot,
	correlationID, causationID string,
) (*domain.RebalancePlan, error) {
	if causationID == "" {
		causationID = correlationID
	}

	// Step 1: weight validation. Weights distribute deployable capital,
	// they do not express leverage.
	totalWeight := consolidated.TotalWeight()
	if totalWeight.GreaterThan(weightUpperBound) {
		return nil, &domain.InvalidPortfolioError{WeightSum: totalWeight}
	}
	if totalWeight.LessThan(weightLowerBound) {
		p.log.Warn().
			Str("total_weight", totalWeight.String()).
			Str("correlation_id", correlationID).
			Msg("Target weights sum below 0.99, remainder stays in cash")
	}

	// Step 2: deployable capital
	equity := snapshot.TotalValue
	deployable := equity.Mul(p.deploymentPct)
	leveraged := deployable.GreaterThan(equity)
	if leveraged {
		margin := snapshot.Margin
		if margin == nil {
			return nil, &domain.InsufficientMarginDataError{}
		}
		if err := p.checkMarginSafety(margin); err != nil {
			return nil, err
		}
		bpLimit := decimal.Min(margin.IntradayBuyingPower, margin.EffectiveBuyingPower)
		if bpLimit.LessThan(deployable) {
			constraint := "intraday_buying_power"
			if margin.EffectiveBuyingPower.LessThan(margin.IntradayBuyingPower) {
				constraint = "effective_buying_power"
			}
			p.log.Info().
				Str("requested", deployable.String()).
				Str("constrained_to", bpLimit.String()).
				Str("constraint", constraint).
				Msg("Deployable capital constrained by buying power")
			deployable = bpLimit
		}
	}

	// Step 3: target and current dollar values across the symbol union
	symbols := symbolUnion(consolidated, snapshot)
	currentValues := make(map[string]decimal.Decimal, len(symbols))
	targetValues := make(map[string]decimal.Decimal, len(symbols))
	sumCurrent := decimal.Zero
	sumTarget := decimal.Zero
	for _, symbol := range symbols {
		qty := snapshot.PositionQuantity(symbol)
		price := snapshot.Prices[symbol]
		if qty.IsPositive() && !price.IsPositive() {
			return nil, &domain.MissingPriceError{Symbol: symbol}
		}
		current := qty.Mul(price)
		currentValues[symbol] = current
		sumCurrent = sumCurrent.Add(current)

		target := decimal.Zero
		if w, ok := consolidated.Weights[symbol]; ok {
			target = w.Mul(deployable)
		}
		targetValues[symbol] = target
		sumTarget = sumTarget.Add(target)
	}

	// Step 4: capital feasibility
	buys := decimal.Zero
	sellProceeds := decimal.Zero
	for _, symbol := range symbols {
		diff := targetValues[symbol].Sub(currentValues[symbol])
		if diff.IsPositive() {
			buys = buys.Add(diff)
		} else {
			sellProceeds = sellProceeds.Add(diff.Neg())
		}
	}
	if leveraged {
		margin := snapshot.Margin
		available := decimal.Min(margin.IntradayBuyingPower, margin.EffectiveBuyingPower)
		netBuyNeeded := buys.Sub(sellProceeds)
		if netBuyNeeded.GreaterThan(available.Add(capitalTolerance)) {
			return nil, &domain.InsufficientCapitalError{Required: netBuyNeeded, Available: available}
		}
	} else {
		available := snapshot.Cash.Add(sellProceeds)
		if buys.GreaterThan(available.Add(capitalTolerance)) {
			return nil, &domain.InsufficientCapitalError{Required: buys, Available: available}
		}
	}

	// Steps 5-6: per-symbol items with dust suppression
	basis := decimal.Max(sumCurrent, sumTarget)
	threshold := p.minTradeThreshold(snapshot.TotalValue)
	items := make([]domain.RebalancePlanItem, 0, len(symbols))
	totalTradeValue := decimal.Zero
	for _, symbol := range symbols {
		current := currentValues[symbol]
		target := targetValues[symbol]
		tradeAmount := target.Sub(current).Round(2)

		currentWeight := decimal.Zero
		targetWeight := decimal.Zero
		if basis.IsPositive() {
			currentWeight = current.Div(basis)
			targetWeight = target.Div(basis)
		}

		item := domain.RebalancePlanItem{
			Symbol:        symbol,
			CurrentWeight: currentWeight,
			TargetWeight:  targetWeight,
			WeightDiff:    targetWeight.Sub(currentWeight),
			TargetValue:   target,
			CurrentValue:  current,
			TradeAmount:   tradeAmount,
			Priority:      domain.PriorityForAmount(tradeAmount.Abs()),
			StrategyID:    consolidated.PrimaryStrategy(symbol, p.defaultStrategy),
		}

		switch {
		case tradeAmount.IsPositive():
			item.Action = domain.TradeBuy
		case tradeAmount.IsNegative():
			item.Action = domain.TradeSell
		default:
			item.Action = domain.TradeHold
		}

		// Dust suppression: trades below the minimum become HOLDs
		if item.Action != domain.TradeHold && tradeAmount.Abs().LessThan(threshold) {
			p.log.Debug().
				Str("symbol", symbol).
				Str("trade_amount", tradeAmount.String()).
				Str("threshold", threshold.String()).
				Msg("Suppressing dust trade")
			item.Action = domain.TradeHold
			item.TradeAmount = decimal.Zero
			item.Priority = domain.PriorityForAmount(decimal.Zero)
		}

		totalTradeValue = totalTradeValue.Add(item.TradeAmount.Abs())
		items = append(items, item)
	}

	// Step 7: SELLs first so proceeds fund BUYs, highest priority first
	// within each group. HOLDs trail.
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := actionRank(items[i].Action), actionRank(items[j].Action)
		if ri != rj {
			return ri < rj
		}
		return items[i].Priority < items[j].Priority
	})

	// Step 8: degenerate plans still carry one well-formed HOLD item
	if len(items) == 0 {
		holdSymbol := p.cashProxySymbol
		if targets := sortedKeys(consolidated.Weights); len(targets) > 0 {
			holdSymbol = targets[0]
		}
		items = append(items, domain.RebalancePlanItem{
			Symbol:      holdSymbol,
			Action:      domain.TradeHold,
			TradeAmount: decimal.Zero,
			Priority:    5,
			StrategyID:  consolidated.PrimaryStrategy(holdSymbol, p.defaultStrategy),
		})
	}

	plan := &domain.RebalancePlan{
		PlanID:              fmt.Sprintf("rebalance_%s_%d", correlationID, time.Now().Unix()),
		CorrelationID:       correlationID,
		CausationID:         causationID,
		Timestamp:           time.Now().UTC(),
		Items:               items,
		TotalPortfolioValue: snapshot.TotalValue,
		TotalTradeValue:     totalTradeValue,
		MaxDriftTolerance:   defaultDrift,
		ExecutionUrgency:    p.urgency,
	}

	p.log.Info().
		Str("correlation_id", correlationID).
		Str("plan_id", plan.PlanID).
		Int("items", len(items)).
		Int("sells", len(plan.Sells())).
		Int("buys", len(plan.Buys())).
		Str("total_trade_value", totalTradeValue.String()).
		Msg("Rebalance plan built")

	return plan, nil
}

// checkMarginSafety rejects leverage when utilization is above the ceiling
// or the maintenance buffer is below the floor
func (p *Planner) checkMarginSafety(margin *domain.MarginInfo) error {
	if margin.MarginUtilizationPct.GreaterThan(p.utilizationCeil) {
		return &domain.MarginSafetyError{
			UtilizationPct: margin.MarginUtilizationPct,
			CeilingPct:     p.utilizationCeil,
			Reason: fmt.Sprintf("margin utilization %s%% above ceiling %s%%",
				margin.MarginUtilizationPct, p.utilizationCeil),
		}
	}
	if margin.MaintenanceBufferPct.LessThan(p.maintenanceFloor) {
		return &domain.MarginSafetyError{
			BufferPct: margin.MaintenanceBufferPct,
			FloorPct:  p.maintenanceFloor,
			Reason: fmt.Sprintf("maintenance buffer %s%% below floor %s%%",
				margin.MaintenanceBufferPct, p.maintenanceFloor),
		}
	}
	return nil
}

// minTradeThreshold scales the dust threshold down for small portfolios:
// 1% of portfolio value (rounded half-up to cents) under $1000, the
// configured minimum otherwise.
func (p *Planner) minTradeThreshold(portfolioValue decimal.Decimal) decimal.Decimal {
	if portfolioValue.LessThan(smallPortfolio) {
		return portfolioValue.Mul(onePercent).Round(2)
	}
	return p.minTradeAmountUSD
}

func actionRank(a domain.TradeAction) int {
	switch a {
	case domain.TradeSell:
		return 0
	case domain.TradeBuy:
		return 1
	default:
		return 2
	}
}

// symbolUnion returns target symbols plus held symbols, sorted for
// deterministic plan output
func symbolUnion(consolidated domain.ConsolidatedPortfolio, snapshot domain.PortfolioSnapshot) []string {
	seen := make(map[string]struct{})
	for symbol := range consolidated.Weights {
		seen[symbol] = struct{}{}
	}
	for symbol, pos := range snapshot.Positions {
		if !pos.Quantity.IsZero() {
			seen[symbol] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
