// Package di wires the application container: ports, pipeline
// components, engine, admin server, and scheduler, all built once at
// startup with explicit constructor injection.
package di

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/broker/alpaca"
	"github.com/polystrat/polystrat/internal/config"
	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/engine"
	"github.com/polystrat/polystrat/internal/events"
	"github.com/polystrat/polystrat/internal/executor"
	"github.com/polystrat/polystrat/internal/journal"
	"github.com/polystrat/polystrat/internal/planner"
	"github.com/polystrat/polystrat/internal/scheduler"
	"github.com/polystrat/polystrat/internal/server"
	"github.com/polystrat/polystrat/internal/signals"
	"github.com/polystrat/polystrat/internal/storage"
	"github.com/polystrat/polystrat/internal/strategies"
	"github.com/polystrat/polystrat/internal/tracker"
)

// Container holds every started component. There is exactly one container
// per process; the tracker inside it is the per-deployment-mode singleton
// keyed by the configured storage prefix (paper vs live).
type Container struct {
	Config     *config.Config
	Broker     *alpaca.Client
	Stream     *alpaca.TradeUpdateStream
	Store      storage.ObjectStore
	Tracker    *tracker.Tracker
	Journal    *journal.Journal
	Bus        *events.Bus
	Strategies *strategies.Registry
	Limiter    *executor.DailyTradeLimit
	Engine     *engine.Engine
	Server     *server.Server
	Scheduler  *scheduler.Scheduler

	quoteSnapshotPath string
	streamCancel      context.CancelFunc
	log               zerolog.Logger
}

// Wire builds the full dependency graph. Nothing is started here; call
// StartBackground for the stream and scheduler.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Config: cfg, log: log.With().Str("component", "di").Logger()}

	brokerCfg := alpaca.Config{
		KeyID:      cfg.Broker.APIKey,
		SecretKey:  cfg.Broker.APISecret,
		Paper:      cfg.Paper,
		TradingURL: cfg.Broker.BaseURL,
		DataURL:    cfg.Broker.DataURL,
		StreamURL:  cfg.Broker.StreamURL,
		Timeout:    cfg.Trading.DataTimeout,
	}
	c.Broker = alpaca.NewClient(brokerCfg, log)
	c.Stream = alpaca.NewTradeUpdateStream(brokerCfg, log)

	// Warm-start the quote cache from the last snapshot, if any
	c.quoteSnapshotPath = filepath.Join(cfg.DataDir, "quotes.msgpack")
	if err := c.Broker.LoadQuoteSnapshot(c.quoteSnapshotPath); err != nil {
		c.log.Debug().Err(err).Msg("No quote cache snapshot to load")
	}

	if cfg.Storage.Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Prefix:          cfg.Storage.Prefix,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKey,
			SecretAccessKey: cfg.Storage.SecretKey,
		}, log)
		if err != nil {
			return nil, err
		}
		c.Store = store
	} else {
		c.log.Warn().Msg("No storage bucket configured, tracker state is in-memory only")
		c.Store = storage.NewMemoryStore()
	}

	c.Tracker = tracker.NewTracker(ctx, c.Store, cfg.Trading.RecentOrdersLimit, log)

	// Journal failures never block trading: a broken local disk degrades
	// to running without the journal.
	jnl, err := journal.Open(filepath.Join(cfg.DataDir, "journal.db"), log)
	if err != nil {
		c.log.Warn().Err(err).Msg("Journal unavailable, continuing without local run history")
	} else {
		c.Journal = jnl
	}

	c.Bus = events.NewBus(log)
	c.Limiter = executor.NewDailyTradeLimit(cfg.Trading.DailyTradeLimitUSD, log)

	c.Strategies = strategies.NewRegistry()
	if err := c.registerStrategies(log); err != nil {
		return nil, err
	}

	deployPct := cfg.Trading.EquityDeploymentPct
	if !cfg.Trading.LeverageEnabled && deployPct.GreaterThan(decimal.NewFromInt(1)) {
		c.log.Warn().
			Str("requested", deployPct.String()).
			Msg("Leverage disabled, clamping equity deployment to 100%")
		deployPct = decimal.NewFromInt(1)
	}

	pln := planner.NewPlanner(
		deployPct,
		cfg.Trading.MinTradeAmountUSD,
		cfg.Trading.MarginUtilizationCeilingPct,
		cfg.Trading.MaintenanceBufferFloorPct,
		cfg.Trading.CashProxySymbol,
		cfg.Trading.DefaultStrategy,
		cfg.Trading.ExecutionUrgency,
		log,
	)

	waiter := executor.NewSettlementWaiter(
		c.Broker, cfg.Trading.SettlementTimeout, cfg.Trading.PollInterval, log,
	).WithStatusSource(c.Stream)

	exec := executor.NewExecutor(
		c.Broker,
		c.Broker,
		executor.NewSmartPricer(cfg.Trading.MaxSlippageBps, log),
		c.Limiter,
		waiter,
		executor.Config{
			TimeInForce:   domain.TIFDay,
			ExtendedHours: cfg.Trading.ExtendedHours,
			Retry:         executor.DefaultRetryPolicy(),
		},
		log,
	)

	c.Engine = engine.New(engine.Deps{
		Account:         c.Broker,
		MarketData:      c.Broker,
		Strategies:      c.Strategies,
		Aggregator:      signals.NewAggregator(cfg.Trading.CashProxySymbol, cfg.Trading.MaxPositionWeight, log),
		Planner:         pln,
		Executor:        exec,
		Tracker:         c.Tracker,
		Journal:         c.Journal,
		Bus:             c.Bus,
		StrategyWeights: cfg.Trading.StrategyWeights,
		DataTimeout:     cfg.Trading.DataTimeout,
		RunDeadline:     cfg.Trading.RunDeadline,
	}, log)

	c.Server = server.New(server.Config{
		Port:       cfg.Port,
		Log:        log,
		Runner:     c.Engine,
		Tracker:    c.Tracker,
		Limiter:    c.Limiter,
		Journal:    c.Journal,
		Account:    c.Broker,
		MarketData: c.Broker,
		DevMode:    cfg.DevMode,
	})

	c.Scheduler = scheduler.New(log)
	if cfg.CronSchedule != "" {
		job := scheduler.NewTradingRunJob(c.Engine, cfg.Trading.RunDeadline, log)
		if err := c.Scheduler.AddJob(cfg.CronSchedule, job); err != nil {
			return nil, &domain.ConfigurationError{Field: "RUN_SCHEDULE", Detail: err.Error()}
		}
	}

	return c, nil
}

// registerStrategies builds the configured momentum strategies. A weight
// without a risk symbol contributes nothing; the defensive cash fallback
// covers it, so it is a warning rather than a startup failure.
func (c *Container) registerStrategies(log zerolog.Logger) error {
	cfg := c.Config
	for _, name := range cfg.StrategyNames() {
		riskSymbol, ok := cfg.Trading.StrategySymbols[name]
		if !ok {
			c.log.Warn().
				Str("strategy", string(name)).
				Msg("No risk symbol configured for strategy, it will emit no signals")
			continue
		}
		strat, err := strategies.NewMomentumStrategy(strategies.MomentumConfig{
			Name:       name,
			RiskSymbol: riskSymbol,
			SafeSymbol: cfg.Trading.CashProxySymbol,
		}, c.Broker, log)
		if err != nil {
			return &domain.ConfigurationError{Field: "STRATEGY_SYMBOLS", Detail: err.Error()}
		}
		if err := c.Strategies.Register(strat); err != nil {
			return &domain.ConfigurationError{Field: "STRATEGY_WEIGHTS", Detail: err.Error()}
		}
	}
	return nil
}

// StartBackground launches the trade-update stream and the scheduler
func (c *Container) StartBackground(ctx context.Context) {
	streamCtx, cancel := context.WithCancel(ctx)
	c.streamCancel = cancel
	go c.Stream.Run(streamCtx)
	c.Scheduler.Start()
}

// Close stops background work and flushes caches. Safe to call after a
// plain Wire without StartBackground.
func (c *Container) Close() {
	if c.streamCancel != nil {
		c.streamCancel()
		c.Stream.Stop()
	}
	c.Scheduler.Stop()
	c.Bus.Drain()

	if err := c.Broker.SaveQuoteSnapshot(c.quoteSnapshotPath); err != nil {
		c.log.Warn().Err(err).Msg("Could not persist quote cache snapshot")
	}
	if c.Journal != nil {
		if err := c.Journal.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Journal close failed")
		}
	}
}
