// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// Config holds application configuration. Loaded once at startup; never
// mutated during a run.
type Config struct {
	DataDir  string // local state: journal db, quote cache snapshot
	LogLevel string
	Port     int
	DevMode  bool

	// Deployment stage: paper vs live. Tracker state is keyed by this.
	Paper bool

	Broker  BrokerConfig
	Storage StorageConfig
	Trading TradingConfig

	// CronSchedule drives scheduled runs when serving ("" disables)
	CronSchedule string
}

// BrokerConfig holds brokerage endpoints and credentials
type BrokerConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string // trading API
	DataURL   string // market data API
	StreamURL string // trade-updates websocket
}

// StorageConfig holds object-storage settings for tracker persistence
type StorageConfig struct {
	Bucket    string
	Prefix    string // per-deployment path prefix, e.g. "paper" or "live"
	Region    string
	Endpoint  string // optional custom endpoint (S3-compatible stores)
	AccessKey string
	SecretKey string
}

// TradingConfig holds the capital, risk, and execution parameters
type TradingConfig struct {
	StrategyWeights map[domain.StrategyID]decimal.Decimal

	// StrategySymbols maps each built-in momentum strategy to the risk
	// asset it rotates into when its signal is on
	StrategySymbols map[domain.StrategyID]string

	CashProxySymbol     string          // defensive cash fallback, e.g. "BIL"
	DefaultStrategy     domain.StrategyID
	EquityDeploymentPct decimal.Decimal // 1.0 = fully deployed, >1.0 requests leverage
	LeverageEnabled     bool

	MinTradeAmountUSD  decimal.Decimal
	DailyTradeLimitUSD decimal.Decimal
	MaxSlippageBps     decimal.Decimal
	MaxPositionWeight  decimal.Decimal

	MarginUtilizationCeilingPct decimal.Decimal
	MaintenanceBufferFloorPct   decimal.Decimal

	ExecutionUrgency domain.Urgency
	ExtendedHours    bool

	DataTimeout       time.Duration // per port call
	SettlementTimeout time.Duration // settlement barrier
	PollInterval      time.Duration // settlement poll cadence
	RunDeadline       time.Duration // whole-run ceiling

	RecentOrdersLimit int // bounded order log size
}

// Load reads configuration from environment variables (.env honored)
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("TRADER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	weights, err := parseStrategyWeights(getEnv("STRATEGY_WEIGHTS", "NUCLEAR:0.5,TECL:0.3,KLM:0.2"))
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "STRATEGY_WEIGHTS", Detail: err.Error()}
	}

	symbols, err := parseStrategySymbols(getEnv("STRATEGY_SYMBOLS", "NUCLEAR:SMR,TECL:TECL,KLM:KMLM"))
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "STRATEGY_SYMBOLS", Detail: err.Error()}
	}

	cfg := &Config{
		DataDir:      absDataDir,
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Port:         getEnvAsInt("PORT", 8001),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		Paper:        getEnvAsBool("PAPER_TRADING", true),
		CronSchedule: getEnv("RUN_SCHEDULE", "30 14 * * 1-5"),
		Broker: BrokerConfig{
			APIKey:    getEnv("BROKER_API_KEY", ""),
			APISecret: getEnv("BROKER_API_SECRET", ""),
			BaseURL:   getEnv("BROKER_BASE_URL", "https://paper-api.alpaca.markets"),
			DataURL:   getEnv("BROKER_DATA_URL", "https://data.alpaca.markets"),
			StreamURL: getEnv("BROKER_STREAM_URL", "wss://paper-api.alpaca.markets/stream"),
		},
		Storage: StorageConfig{
			Bucket:    getEnv("S3_BUCKET", ""),
			Prefix:    getEnv("S3_PREFIX", ""),
			Region:    getEnv("AWS_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY_ID", ""),
			SecretKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
		Trading: TradingConfig{
			StrategyWeights:             weights,
			StrategySymbols:             symbols,
			CashProxySymbol:             getEnv("CASH_PROXY_SYMBOL", "BIL"),
			DefaultStrategy:             domain.StrategyID(getEnv("DEFAULT_STRATEGY", string(domain.StrategyDefault))),
			EquityDeploymentPct:         getEnvAsDecimal("EQUITY_DEPLOYMENT_PCT", "1.0"),
			LeverageEnabled:             getEnvAsBool("LEVERAGE_ENABLED", false),
			MinTradeAmountUSD:           getEnvAsDecimal("MIN_TRADE_AMOUNT_USD", "10"),
			DailyTradeLimitUSD:          getEnvAsDecimal("DAILY_TRADE_LIMIT_USD", "50000"),
			MaxSlippageBps:              getEnvAsDecimal("MAX_SLIPPAGE_BPS", "20"),
			MaxPositionWeight:           getEnvAsDecimal("MAX_POSITION_WEIGHT", "1.0"),
			MarginUtilizationCeilingPct: getEnvAsDecimal("MARGIN_UTILIZATION_CEILING_PCT", "80"),
			MaintenanceBufferFloorPct:   getEnvAsDecimal("MAINTENANCE_BUFFER_FLOOR_PCT", "10"),
			ExecutionUrgency:            domain.Urgency(getEnv("EXECUTION_URGENCY", string(domain.UrgencyNormal))),
			ExtendedHours:               getEnvAsBool("EXTENDED_HOURS", false),
			DataTimeout:                 getEnvAsDuration("DATA_TIMEOUT", 30*time.Second),
			SettlementTimeout:           getEnvAsDuration("SETTLEMENT_TIMEOUT", 60*time.Second),
			PollInterval:                getEnvAsDuration("SETTLEMENT_POLL_INTERVAL", 2*time.Second),
			RunDeadline:                 getEnvAsDuration("RUN_DEADLINE", 10*time.Minute),
			RecentOrdersLimit:           getEnvAsInt("RECENT_ORDERS_LIMIT", 1000),
		},
	}

	// Storage prefix defaults follow the deployment stage so paper and
	// live tracker state never mix.
	if cfg.Storage.Prefix == "" {
		if cfg.Paper {
			cfg.Storage.Prefix = "paper"
		} else {
			cfg.Storage.Prefix = "live"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present and coherent
func (c *Config) Validate() error {
	if !c.DevMode {
		if c.Broker.APIKey == "" || c.Broker.APISecret == "" {
			return &domain.ConfigurationError{Field: "BROKER_API_KEY/BROKER_API_SECRET", Detail: "broker credentials required"}
		}
	}

	sum := decimal.Zero
	for id, w := range c.Trading.StrategyWeights {
		if w.IsNegative() {
			return &domain.ConfigurationError{Field: "STRATEGY_WEIGHTS", Detail: fmt.Sprintf("negative weight for %s", id)}
		}
		sum = sum.Add(w)
	}
	if sum.GreaterThan(decimal.RequireFromString("1.01")) {
		return &domain.ConfigurationError{Field: "STRATEGY_WEIGHTS", Detail: fmt.Sprintf("weights sum to %s, must not exceed 1.01", sum)}
	}

	switch c.Trading.ExecutionUrgency {
	case domain.UrgencyLow, domain.UrgencyNormal, domain.UrgencyHigh, domain.UrgencyUrgent:
	default:
		return &domain.ConfigurationError{Field: "EXECUTION_URGENCY", Detail: fmt.Sprintf("unknown urgency %q", c.Trading.ExecutionUrgency)}
	}

	if !c.Trading.EquityDeploymentPct.IsPositive() {
		return &domain.ConfigurationError{Field: "EQUITY_DEPLOYMENT_PCT", Detail: "must be positive"}
	}
	return nil
}

// StrategyNames returns the configured strategy IDs sorted lexicographically.
// The aggregator iterates strategies in this order so that primary-strategy
// attribution is deterministic.
func (c *Config) StrategyNames() []domain.StrategyID {
	names := make([]domain.StrategyID, 0, len(c.Trading.StrategyWeights))
	for id := range c.Trading.StrategyWeights {
		names = append(names, id)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// parseStrategyWeights parses "NUCLEAR:0.5,TECL:0.3" into a weight map
func parseStrategyWeights(raw string) (map[domain.StrategyID]decimal.Decimal, error) {
	weights := make(map[domain.StrategyID]decimal.Decimal)
	if strings.TrimSpace(raw) == "" {
		return weights, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed weight entry %q", pair)
		}
		name := strings.ToUpper(strings.TrimSpace(parts[0]))
		if name == "" {
			return nil, fmt.Errorf("empty strategy name in %q", pair)
		}
		w, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid weight in %q: %w", pair, err)
		}
		if _, exists := weights[domain.StrategyID(name)]; exists {
			return nil, fmt.Errorf("duplicate strategy %q", name)
		}
		weights[domain.StrategyID(name)] = w
	}
	return weights, nil
}

// parseStrategySymbols parses "NUCLEAR:SMR,TECL:TECL" into a symbol map
func parseStrategySymbols(raw string) (map[domain.StrategyID]string, error) {
	symbols := make(map[domain.StrategyID]string)
	if strings.TrimSpace(raw) == "" {
		return symbols, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed symbol entry %q", pair)
		}
		name := strings.ToUpper(strings.TrimSpace(parts[0]))
		symbol := strings.ToUpper(strings.TrimSpace(parts[1]))
		if err := domain.ValidateSymbol(symbol); err != nil {
			return nil, fmt.Errorf("invalid symbol in %q: %w", pair, err)
		}
		symbols[domain.StrategyID(name)] = symbol
	}
	return symbols, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(defaultValue)
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if dur, err := time.ParseDuration(value); err == nil {
			return dur
		}
	}
	return defaultValue
}
