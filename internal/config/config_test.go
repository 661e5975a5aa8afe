package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/domain"
)

func TestParseStrategyWeights(t *testing.T) {
	weights, err := parseStrategyWeights("NUCLEAR:0.5,TECL:0.3,KLM:0.2")
	require.NoError(t, err)
	assert.Len(t, weights, 3)
	assert.True(t, weights[domain.StrategyNuclear].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, weights[domain.StrategyKLM].Equal(decimal.RequireFromString("0.2")))
}

func TestParseStrategyWeights_Lowercase(t *testing.T) {
	weights, err := parseStrategyWeights("nuclear:0.5")
	require.NoError(t, err)
	_, ok := weights[domain.StrategyNuclear]
	assert.True(t, ok)
}

func TestParseStrategyWeights_Malformed(t *testing.T) {
	for _, raw := range []string{"NUCLEAR", "NUCLEAR:abc", ":0.5", "NUCLEAR:0.5,NUCLEAR:0.2"} {
		_, err := parseStrategyWeights(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestValidate_WeightSumTooHigh(t *testing.T) {
	cfg := &Config{
		DevMode: true,
		Trading: TradingConfig{
			StrategyWeights: map[domain.StrategyID]decimal.Decimal{
				domain.StrategyNuclear: decimal.RequireFromString("0.7"),
				domain.StrategyTECL:    decimal.RequireFromString("0.4"),
			},
			ExecutionUrgency:    domain.UrgencyNormal,
			EquityDeploymentPct: decimal.NewFromInt(1),
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.CodeConfiguration, domain.ClassifyError(err))
}

func TestValidate_MissingCredentials(t *testing.T) {
	cfg := &Config{
		DevMode: false,
		Trading: TradingConfig{
			ExecutionUrgency:    domain.UrgencyNormal,
			EquityDeploymentPct: decimal.NewFromInt(1),
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, domain.CodeConfiguration, domain.ClassifyError(err))
}

func TestStrategyNames_Sorted(t *testing.T) {
	cfg := &Config{
		Trading: TradingConfig{
			StrategyWeights: map[domain.StrategyID]decimal.Decimal{
				domain.StrategyTECL:    decimal.RequireFromString("0.3"),
				domain.StrategyKLM:     decimal.RequireFromString("0.2"),
				domain.StrategyNuclear: decimal.RequireFromString("0.5"),
			},
		},
	}
	assert.Equal(t, []domain.StrategyID{domain.StrategyKLM, domain.StrategyNuclear, domain.StrategyTECL}, cfg.StrategyNames())
}
