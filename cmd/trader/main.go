// Command trader runs the multi-strategy trading engine.
//
// Default mode executes a single trading run and exits with the run's
// exit code (0 success, 1 fatal, 2 daily limit tripped, 3 configuration).
// With -serve it stays up: admin HTTP API plus scheduled runs.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/polystrat/polystrat/internal/config"
	"github.com/polystrat/polystrat/internal/di"
	"github.com/polystrat/polystrat/internal/domain"
	"github.com/polystrat/polystrat/internal/engine"
	"github.com/polystrat/polystrat/pkg/logger"
)

func main() {
	serve := flag.Bool("serve", false, "run the HTTP server and scheduler instead of a single trading run")
	correlationID := flag.String("correlation-id", "", "correlation ID for a single run (generated if empty)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New(logger.Config{Level: "info"})
		log.Error().Err(err).Msg("Configuration invalid")
		var confErr *domain.ConfigurationError
		if errors.As(err, &confErr) {
			os.Exit(engine.ExitConfiguration)
		}
		os.Exit(engine.ExitFatal)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().
		Bool("paper", cfg.Paper).
		Bool("serve", *serve).
		Str("data_dir", cfg.DataDir).
		Msg("Starting trader")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Wiring failed")
		var confErr *domain.ConfigurationError
		if errors.As(err, &confErr) {
			os.Exit(engine.ExitConfiguration)
		}
		os.Exit(engine.ExitFatal)
	}

	if *serve {
		os.Exit(runServer(ctx, container, log))
	}
	os.Exit(runOnce(ctx, container, *correlationID, log))
}

// runOnce executes a single trading run and maps the result to an exit code
func runOnce(ctx context.Context, c *di.Container, correlationID string, log zerolog.Logger) int {
	defer c.Close()

	result := c.Engine.Run(ctx, correlationID)
	if result.Success {
		log.Info().
			Str("correlation_id", result.CorrelationID).
			Int("orders_executed", result.OrdersExecuted()).
			Int("orders_canceled", result.OrdersCanceled()).
			Strs("warnings", result.Warnings).
			Msg("Trading run completed")
	} else {
		log.Error().
			Str("correlation_id", result.CorrelationID).
			Str("error_code", string(result.ErrorCode)).
			Str("error", result.ErrorMessage).
			Msg("Trading run failed")
	}
	return result.ExitCode()
}

// runServer keeps the process up: trade-update stream, cron scheduler,
// and the admin HTTP API, until SIGINT/SIGTERM.
func runServer(ctx context.Context, c *di.Container, log zerolog.Logger) int {
	c.StartBackground(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := c.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	c.Close()
	return exitCode
}
