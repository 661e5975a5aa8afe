package strategies

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/pkg/logger"
)

func testLogger() zerolog.Logger {
	return logger.New(logger.Config{Level: "error", Pretty: false})
}

type stubBars struct {
	closes map[string][]float64
	err    error
}

func (s *stubBars) DailyCloses(_ context.Context, symbol string, _ int) ([]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.closes[symbol], nil
}

// risingCloses drives RSI to 100: every day closes higher
func risingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

// fallingCloses drives RSI to 0
func fallingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 200 - float64(i)
	}
	return out
}

func newMomentum(t *testing.T, bars BarSource) *MomentumStrategy {
	t.Helper()
	s, err := NewMomentumStrategy(MomentumConfig{
		Name:       domain.StrategyTECL,
		RiskSymbol: "TECL",
		SafeSymbol: "BIL",
	}, bars, testLogger())
	require.NoError(t, err)
	return s
}

func TestMomentum_OverboughtRotatesToSafeSymbol(t *testing.T) {
	bars := &stubBars{closes: map[string][]float64{"TECL": risingCloses(30)}}
	s := newMomentum(t, bars)

	signals, err := s.GenerateSignals(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	sig := signals[0]
	assert.Equal(t, "BIL", sig.Symbol)
	assert.Equal(t, domain.ActionBuy, sig.Action)
	assert.True(t, sig.TargetAllocation.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, domain.StrategyTECL, sig.StrategyID)
	assert.Contains(t, sig.Reasoning, "rotating to BIL")
}

func TestMomentum_CalmMarketHoldsRiskAsset(t *testing.T) {
	bars := &stubBars{closes: map[string][]float64{"TECL": fallingCloses(30)}}
	s := newMomentum(t, bars)

	signals, err := s.GenerateSignals(context.Background(), time.Now(), nil)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "TECL", signals[0].Symbol)
	assert.Equal(t, domain.ActionBuy, signals[0].Action)
}

func TestMomentum_InsufficientHistoryIsAnError(t *testing.T) {
	bars := &stubBars{closes: map[string][]float64{"TECL": risingCloses(5)}}
	s := newMomentum(t, bars)

	_, err := s.GenerateSignals(context.Background(), time.Now(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "need 11 closes")
}

func TestMomentum_BarSourceErrorPropagates(t *testing.T) {
	wanted := errors.New("data feed down")
	s := newMomentum(t, &stubBars{err: wanted})

	_, err := s.GenerateSignals(context.Background(), time.Now(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, wanted)
}

func TestMomentum_ConstructorValidation(t *testing.T) {
	bars := &stubBars{}
	_, err := NewMomentumStrategy(MomentumConfig{RiskSymbol: "TECL", SafeSymbol: "BIL"}, bars, testLogger())
	assert.Error(t, err, "name required")

	_, err = NewMomentumStrategy(MomentumConfig{Name: "X", RiskSymbol: "tecl", SafeSymbol: "BIL"}, bars, testLogger())
	assert.Error(t, err, "lowercase symbol rejected")

	_, err = NewMomentumStrategy(MomentumConfig{Name: "X", RiskSymbol: "TECL", SafeSymbol: "BIL", RSIPeriod: 1}, bars, testLogger())
	assert.Error(t, err, "period too short")
}

func TestRegistry_RegisterAndIterateSorted(t *testing.T) {
	reg := NewRegistry()
	bars := &stubBars{}

	for _, name := range []domain.StrategyID{"ZULU", "ALPHA", "MIKE"} {
		s, err := NewMomentumStrategy(MomentumConfig{
			Name: name, RiskSymbol: "TECL", SafeSymbol: "BIL",
		}, bars, testLogger())
		require.NoError(t, err)
		require.NoError(t, reg.Register(s))
	}

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, domain.StrategyID("ALPHA"), all[0].Name())
	assert.Equal(t, domain.StrategyID("MIKE"), all[1].Name())
	assert.Equal(t, domain.StrategyID("ZULU"), all[2].Name())

	_, ok := reg.Get("ALPHA")
	assert.True(t, ok)
	_, ok = reg.Get("ABSENT")
	assert.False(t, ok)
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	reg := NewRegistry()
	s, err := NewMomentumStrategy(MomentumConfig{
		Name: "ALPHA", RiskSymbol: "TECL", SafeSymbol: "BIL",
	}, &stubBars{}, testLogger())
	require.NoError(t, err)

	require.NoError(t, reg.Register(s))
	assert.Error(t, reg.Register(s))
}
