package di

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polystrat/polystrat/internal/config"
	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/storage"
)

func devConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:      t.TempDir(),
		Port:         0,
		DevMode:      true,
		Paper:        true,
		CronSchedule: "30 14 * * 1-5",
		Trading: config.TradingConfig{
			StrategyWeights: map[domain.StrategyID]decimal.Decimal{
				"NUCLEAR": decimal.RequireFromString("0.6"),
				"TECL":    decimal.RequireFromString("0.4"),
			},
			StrategySymbols: map[domain.StrategyID]string{
				"NUCLEAR": "SMR",
				"TECL":    "TECL",
			},
			CashProxySymbol:             "BIL",
			DefaultStrategy:             "DEFAULT",
			EquityDeploymentPct:         decimal.RequireFromString("1.0"),
			MinTradeAmountUSD:           decimal.RequireFromString("10"),
			DailyTradeLimitUSD:          decimal.RequireFromString("50000"),
			MaxSlippageBps:              decimal.RequireFromString("20"),
			MaxPositionWeight:           decimal.RequireFromString("1.0"),
			MarginUtilizationCeilingPct: decimal.RequireFromString("80"),
			MaintenanceBufferFloorPct:   decimal.RequireFromString("10"),
			ExecutionUrgency:            domain.UrgencyNormal,
			DataTimeout:                 5 * time.Second,
			SettlementTimeout:           10 * time.Second,
			PollInterval:                time.Second,
			RunDeadline:                 time.Minute,
			RecentOrdersLimit:           100,
		},
	}
}

func TestWireDevMode(t *testing.T) {
	c, err := Wire(context.Background(), devConfig(t), zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.Broker)
	assert.NotNil(t, c.Stream)
	assert.NotNil(t, c.Tracker)
	assert.NotNil(t, c.Journal, "journal should open in a writable data dir")
	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Server)
	assert.NotNil(t, c.Scheduler)

	// No bucket configured: tracker state stays in memory
	_, ok := c.Store.(*storage.MemoryStore)
	assert.True(t, ok)

	assert.Len(t, c.Strategies.All(), 2)
}

func TestWireClampsDeploymentWithoutLeverage(t *testing.T) {
	cfg := devConfig(t)
	cfg.Trading.EquityDeploymentPct = decimal.RequireFromString("1.5")
	cfg.Trading.LeverageEnabled = false

	c, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	// The clamp happens inside Wire; the original config is untouched
	assert.True(t, cfg.Trading.EquityDeploymentPct.Equal(decimal.RequireFromString("1.5")))
}

func TestWireRejectsBadSchedule(t *testing.T) {
	cfg := devConfig(t)
	cfg.CronSchedule = "not a schedule"

	_, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	var confErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestWireSkipsStrategyWithoutSymbol(t *testing.T) {
	cfg := devConfig(t)
	delete(cfg.Trading.StrategySymbols, "TECL")

	c, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer c.Close()
	assert.Len(t, c.Strategies.All(), 1)
}
