package executor

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// SpreadQuality buckets the bid/ask spread for inside-factor selection
type SpreadQuality string

const (
	SpreadTight  SpreadQuality = "tight"
	SpreadNormal SpreadQuality = "normal"
	SpreadWide   SpreadQuality = "wide"
)

var (
	cent            = decimal.RequireFromString("0.01")
	threeCents      = decimal.RequireFromString("0.03")
	fiveCents       = decimal.RequireFromString("0.05")
	tightBps        = decimal.NewFromInt(10)
	wideBps         = decimal.NewFromInt(100)
	bpsScale        = decimal.NewFromInt(10000)
	minWorkableGap  = decimal.RequireFromString("0.02")
	insideFactorTab = map[SpreadQuality][2]decimal.Decimal{
		// columns: low/normal urgency, high/urgent urgency
		SpreadTight:  {decimal.RequireFromString("0.6"), decimal.RequireFromString("0.8")},
		SpreadNormal: {decimal.RequireFromString("0.3"), decimal.RequireFromString("0.5")},
		SpreadWide:   {decimal.RequireFromString("0.1"), decimal.RequireFromString("0.2")},
	}
)

// PriceDecision is the pricing outcome for a single order
type PriceDecision struct {
	OrderType  domain.OrderType
	LimitPrice *decimal.Decimal // set iff OrderType is limit, 2 dp
	Reason     string
}

// SmartPricer computes limit prices inside the spread from quote quality
// and execution urgency, validating slippage against the configured bound.
type SmartPricer struct {
	maxSlippageBps decimal.Decimal
	log            zerolog.Logger
}

// NewSmartPricer creates a pricer with the given slippage ceiling in bps
func NewSmartPricer(maxSlippageBps decimal.Decimal, log zerolog.Logger) *SmartPricer {
	return &SmartPricer{
		maxSlippageBps: maxSlippageBps,
		log:            log.With().Str("service", "smart_pricer").Logger(),
	}
}

// ClassifySpread buckets a quote's spread: tight when <= 3 cents or
// <= 10 bps of mid, wide when > 5 cents or > 100 bps, normal otherwise.
func ClassifySpread(quote domain.Quote) SpreadQuality {
	spread := quote.Spread()
	mid := quote.Mid()
	spreadBps := decimal.Zero
	if mid.IsPositive() {
		spreadBps = spread.Div(mid).Mul(bpsScale)
	}

	if spread.LessThanOrEqual(threeCents) || spreadBps.LessThanOrEqual(tightBps) {
		return SpreadTight
	}
	if spread.GreaterThan(fiveCents) || spreadBps.GreaterThan(wideBps) {
		return SpreadWide
	}
	return SpreadNormal
}

// Price decides between a smart limit and a market order for one side.
// Unusable quotes (zero or crossed) and spreads too tight to work a limit
// inside fall back to market.
func (p *SmartPricer) Price(side domain.OrderSide, quote *domain.Quote, urgency domain.Urgency) PriceDecision {
	if quote == nil || !quote.Usable() {
		return PriceDecision{OrderType: domain.OrderTypeMarket, Reason: "unusable_quote"}
	}

	spread := quote.Spread()
	// With less than two cents of spread there is no price strictly
	// inside the book at cent granularity.
	if spread.LessThan(minWorkableGap) {
		return PriceDecision{OrderType: domain.OrderTypeMarket, Reason: "spread_too_tight"}
	}

	quality := ClassifySpread(*quote)
	limit := rawLimit(side, *quote, insideFactor(quality, urgency))

	if urgency == domain.UrgencyUrgent {
		// One extra cent toward execution, and never behind the
		// normal-urgency level.
		baseline := rawLimit(side, *quote, insideFactor(quality, domain.UrgencyNormal))
		if side == domain.SideBuy {
			limit = decimal.Max(limit.Add(cent), baseline)
		} else {
			limit = decimal.Min(limit.Sub(cent), baseline)
		}
	}

	limit = clampInside(limit, *quote)

	// Slippage bound: distance from mid in bps must not exceed the
	// configured ceiling. On breach, reprice at mid (zero slippage)
	// rather than crossing further.
	reason := string(quality)
	mid := quote.Mid()
	slippageBps := limit.Sub(mid).Abs().Div(mid).Mul(bpsScale)
	if slippageBps.GreaterThan(p.maxSlippageBps) {
		conservative := clampInside(mid.Round(2), *quote)
		p.log.Warn().
			Str("symbol", quote.Symbol).
			Str("side", string(side)).
			Str("limit", limit.String()).
			Str("slippage_bps", slippageBps.StringFixed(1)).
			Str("max_slippage_bps", p.maxSlippageBps.String()).
			Str("repriced_to", conservative.String()).
			Msg("Limit price exceeds slippage bound, repricing at mid")
		limit = conservative
		reason = "slippage_repriced"
	}

	return PriceDecision{
		OrderType:  domain.OrderTypeLimit,
		LimitPrice: &limit,
		Reason:     reason,
	}
}

// AggressivePrice returns a marketable limit: one cent through the book.
// Used for leveraged ETFs and urgent items where opportunity cost beats
// small slippage.
func AggressivePrice(side domain.OrderSide, quote domain.Quote) decimal.Decimal {
	if side == domain.SideBuy {
		return quote.Ask.Add(cent).Round(2)
	}
	return decimal.Max(quote.Bid.Sub(cent), cent).Round(2)
}

// rawLimit places the order inside the spread by the given factor,
// rounded to cents
func rawLimit(side domain.OrderSide, q domain.Quote, factor decimal.Decimal) decimal.Decimal {
	spread := q.Spread()
	if side == domain.SideBuy {
		return q.Ask.Sub(spread.Mul(factor)).Round(2)
	}
	return q.Bid.Add(spread.Mul(factor)).Round(2)
}

// insideFactor selects how far inside the spread to place the order
func insideFactor(quality SpreadQuality, urgency domain.Urgency) decimal.Decimal {
	col := 0
	if urgency == domain.UrgencyHigh || urgency == domain.UrgencyUrgent {
		col = 1
	}
	return insideFactorTab[quality][col]
}

// clampInside keeps a limit price strictly inside the quoted book,
// at least one cent off each side
func clampInside(limit decimal.Decimal, quote domain.Quote) decimal.Decimal {
	lo := quote.Bid.Add(cent)
	hi := quote.Ask.Sub(cent)
	if limit.LessThan(lo) {
		return lo
	}
	if limit.GreaterThan(hi) {
		return hi
	}
	return limit
}
