package strategies

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

const (
	defaultRSIPeriod  = 10
	defaultOverbought = 79.0

	// barsLookback leaves talib enough warmup history beyond the period
	barsLookback = 3
)

// BarSource supplies historical daily closes, oldest first
type BarSource interface {
	DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
}

// MomentumConfig parameterizes a momentum rotation strategy
type MomentumConfig struct {
	Name       domain.StrategyID
	RiskSymbol string // held while momentum is not overbought
	SafeSymbol string // cash proxy held while overbought
	RSIPeriod  int    // defaults to 10
	Overbought float64
}

// MomentumStrategy rotates between a risk asset and a cash proxy on an
// RSI overbought gate: when the risk asset's RSI crosses the threshold
// the whole budget moves to the safe symbol until momentum cools off.
type MomentumStrategy struct {
	name       domain.StrategyID
	riskSymbol string
	safeSymbol string
	rsiPeriod  int
	overbought float64
	bars       BarSource
	log        zerolog.Logger
}

// NewMomentumStrategy creates a momentum strategy. Zero-valued tuning
// fields fall back to the defaults.
func NewMomentumStrategy(cfg MomentumConfig, bars BarSource, log zerolog.Logger) (*MomentumStrategy, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("momentum strategy requires a name")
	}
	if err := domain.ValidateSymbol(cfg.RiskSymbol); err != nil {
		return nil, fmt.Errorf("risk symbol: %w", err)
	}
	if err := domain.ValidateSymbol(cfg.SafeSymbol); err != nil {
		return nil, fmt.Errorf("safe symbol: %w", err)
	}
	if cfg.RSIPeriod == 0 {
		cfg.RSIPeriod = defaultRSIPeriod
	}
	if cfg.RSIPeriod < 2 {
		return nil, fmt.Errorf("rsi period %d too short", cfg.RSIPeriod)
	}
	if cfg.Overbought == 0 {
		cfg.Overbought = defaultOverbought
	}
	return &MomentumStrategy{
		name:       cfg.Name,
		riskSymbol: cfg.RiskSymbol,
		safeSymbol: cfg.SafeSymbol,
		rsiPeriod:  cfg.RSIPeriod,
		overbought: cfg.Overbought,
		bars:       bars,
		log:        log.With().Str("strategy", string(cfg.Name)).Logger(),
	}, nil
}

// Name returns the registered strategy name
func (s *MomentumStrategy) Name() domain.StrategyID {
	return s.name
}

// GenerateSignals emits exactly one BUY signal: the risk asset when its
// RSI is below the overbought threshold, otherwise the cash proxy.
func (s *MomentumStrategy) GenerateSignals(ctx context.Context, asOf time.Time, _ domain.MarketDataPort) ([]domain.StrategySignal, error) {
	closes, err := s.bars.DailyCloses(ctx, s.riskSymbol, s.rsiPeriod*barsLookback)
	if err != nil {
		return nil, fmt.Errorf("fetching closes for %s: %w", s.riskSymbol, err)
	}
	rsi, err := s.currentRSI(closes)
	if err != nil {
		return nil, err
	}

	symbol := s.riskSymbol
	reasoning := fmt.Sprintf("RSI(%d)=%.1f below %.0f, holding %s", s.rsiPeriod, rsi, s.overbought, s.riskSymbol)
	if rsi >= s.overbought {
		symbol = s.safeSymbol
		reasoning = fmt.Sprintf("RSI(%d)=%.1f at or above %.0f, rotating to %s", s.rsiPeriod, rsi, s.overbought, s.safeSymbol)
	}
	s.log.Info().Float64("rsi", rsi).Str("symbol", symbol).Msg("Momentum signal")

	signal, err := domain.NewStrategySignal(
		s.name,
		symbol,
		domain.ActionBuy,
		s.confidence(rsi),
		decimal.NewFromInt(1),
		reasoning,
		asOf,
	)
	if err != nil {
		return nil, err
	}
	return []domain.StrategySignal{signal}, nil
}

// currentRSI computes the latest RSI value over the close series
func (s *MomentumStrategy) currentRSI(closes []float64) (float64, error) {
	if len(closes) < s.rsiPeriod+1 {
		return 0, fmt.Errorf("need %d closes for RSI(%d), got %d", s.rsiPeriod+1, s.rsiPeriod, len(closes))
	}
	rsi := talib.Rsi(closes, s.rsiPeriod)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return 0, fmt.Errorf("RSI(%d) produced NaN over %d closes", s.rsiPeriod, len(closes))
	}
	return last, nil
}

// confidence scales with distance from the threshold, floored at 0.5 so a
// marginal reading still carries weight in aggregation
func (s *MomentumStrategy) confidence(rsi float64) decimal.Decimal {
	distance := math.Abs(rsi-s.overbought) / 100
	conf := math.Min(1, 0.5+distance)
	return decimal.NewFromFloat(conf).Round(4)
}
