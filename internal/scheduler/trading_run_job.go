package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/polystrat/polystrat/internal/engine"
)

// Runner triggers a trading run; implemented by engine.Engine
type Runner interface {
	Run(ctx context.Context, correlationID string) *engine.TradeRunResult
}

// TradingRunJob runs the full trading pipeline once
type TradingRunJob struct {
	runner   Runner
	deadline time.Duration
	log      zerolog.Logger
}

// NewTradingRunJob creates the scheduled trading job
func NewTradingRunJob(runner Runner, deadline time.Duration, log zerolog.Logger) *TradingRunJob {
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return &TradingRunJob{
		runner:   runner,
		deadline: deadline,
		log:      log.With().Str("job", "trading_run").Logger(),
	}
}

// Name returns the job name
func (j *TradingRunJob) Name() string {
	return "trading_run"
}

// Run executes one trading pass. A failed run is a job error so the
// scheduler logs it, but the process keeps serving.
func (j *TradingRunJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.deadline)
	defer cancel()

	result := j.runner.Run(ctx, "")
	if !result.Success {
		return fmt.Errorf("trading run %s failed: %s (%s)",
			result.CorrelationID, result.ErrorMessage, result.ErrorCode)
	}

	j.log.Info().
		Str("correlation_id", result.CorrelationID).
		Int("orders_executed", result.OrdersExecuted()).
		Msg("Scheduled trading run completed")
	return nil
}
