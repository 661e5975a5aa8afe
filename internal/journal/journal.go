// Package journal keeps a local append-only sqlite record of trading runs
// and fills. It is diagnostic infrastructure: callers log journal errors
// and move on, a journal failure never fails a run.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/database"
	"github.com/polystrat/polystrat/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id  TEXT NOT NULL UNIQUE,
	started_at      TEXT NOT NULL,
	finished_at     TEXT NOT NULL,
	success         INTEGER NOT NULL,
	orders_executed INTEGER NOT NULL,
	orders_canceled INTEGER NOT NULL,
	error_category  TEXT,
	error_detail    TEXT,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id        TEXT NOT NULL UNIQUE,
	correlation_id  TEXT NOT NULL,
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	quantity        TEXT NOT NULL,
	price           TEXT NOT NULL,
	value           TEXT NOT NULL,
	executed_at     TEXT NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_correlation ON trades(correlation_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`

// RunRecord summarizes one trading run
type RunRecord struct {
	CorrelationID  string
	StartedAt      time.Time
	FinishedAt     time.Time
	Success        bool
	OrdersExecuted int
	OrdersCanceled int
	ErrorCategory  string
	ErrorDetail    string
}

// TradeRecord is one journaled fill
type TradeRecord struct {
	OrderID       string
	CorrelationID string
	StrategyID    domain.StrategyID
	Symbol        string
	Side          domain.OrderSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Value         decimal.Decimal
	ExecutedAt    time.Time
}

// Journal persists run and trade records to a local ledger database
type Journal struct {
	db  *database.DB
	log zerolog.Logger
}

// Open creates the journal database at path and applies the schema
func Open(path string, log zerolog.Logger) (*Journal, error) {
	db, err := database.New(database.Config{
		Path:    path,
		Profile: database.ProfileLedger,
		Name:    "journal",
	})
	if err != nil {
		return nil, err
	}
	if _, err := db.Conn().Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}
	return &Journal{
		db:  db,
		log: log.With().Str("service", "journal").Logger(),
	}, nil
}

// Close closes the journal database
func (j *Journal) Close() error {
	return j.db.Close()
}

// HealthCheck pings the journal database
func (j *Journal) HealthCheck(ctx context.Context) error {
	return j.db.QuickCheck(ctx)
}

// RecordRun appends a run summary. Re-recording the same correlation ID
// is a no-op.
func (j *Journal) RecordRun(ctx context.Context, rec RunRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.Conn().ExecContext(ctx, `
		INSERT OR IGNORE INTO runs
		(correlation_id, started_at, finished_at, success,
		 orders_executed, orders_canceled, error_category, error_detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID,
		rec.StartedAt.UTC().Format(time.RFC3339),
		rec.FinishedAt.UTC().Format(time.RFC3339),
		boolToInt(rec.Success),
		rec.OrdersExecuted,
		rec.OrdersCanceled,
		nullString(rec.ErrorCategory),
		nullString(rec.ErrorDetail),
		now,
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", rec.CorrelationID, err)
	}
	j.log.Debug().Str("correlation_id", rec.CorrelationID).Bool("success", rec.Success).Msg("Run journaled")
	return nil
}

// RecordFill appends a fill keyed by broker order ID; duplicates are ignored
// so replays stay idempotent.
func (j *Journal) RecordFill(ctx context.Context, correlationID string, fill domain.FilledOrder) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.Conn().ExecContext(ctx, `
		INSERT OR IGNORE INTO trades
		(order_id, correlation_id, strategy_id, symbol, side,
		 quantity, price, value, executed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderID,
		correlationID,
		string(fill.StrategyID),
		fill.Symbol,
		string(fill.Side),
		fill.FilledQty.String(),
		fill.FilledAvgPrice.String(),
		fill.FilledValue().String(),
		fill.Timestamp.UTC().Format(time.RFC3339),
		now,
	)
	if err != nil {
		return fmt.Errorf("recording fill %s: %w", fill.OrderID, err)
	}
	return nil
}

// LastRun returns the most recent run record, or nil when the journal is empty
func (j *Journal) LastRun(ctx context.Context) (*RunRecord, error) {
	row := j.db.Conn().QueryRowContext(ctx, `
		SELECT correlation_id, started_at, finished_at, success,
		       orders_executed, orders_canceled, error_category, error_detail
		FROM runs ORDER BY id DESC LIMIT 1`)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	return &rec, nil
}

// RecentFills returns up to limit fills, most recent first
func (j *Journal) RecentFills(ctx context.Context, limit int) ([]TradeRecord, error) {
	rows, err := j.db.Conn().QueryContext(ctx, `
		SELECT order_id, correlation_id, strategy_id, symbol, side,
		       quantity, price, value, executed_at
		FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading recent fills: %w", err)
	}
	defer rows.Close()

	var fills []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		var qty, price, value, executedAt string
		if err := rows.Scan(&rec.OrderID, &rec.CorrelationID, (*string)(&rec.StrategyID),
			&rec.Symbol, (*string)(&rec.Side), &qty, &price, &value, &executedAt); err != nil {
			return nil, fmt.Errorf("scanning fill: %w", err)
		}
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("fill %s quantity: %w", rec.OrderID, err)
		}
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("fill %s price: %w", rec.OrderID, err)
		}
		if rec.Value, err = decimal.NewFromString(value); err != nil {
			return nil, fmt.Errorf("fill %s value: %w", rec.OrderID, err)
		}
		if rec.ExecutedAt, err = time.Parse(time.RFC3339, executedAt); err != nil {
			return nil, fmt.Errorf("fill %s executed_at: %w", rec.OrderID, err)
		}
		fills = append(fills, rec)
	}
	return fills, rows.Err()
}

func scanRun(row *sql.Row) (RunRecord, error) {
	var rec RunRecord
	var started, finished string
	var success int
	var category, detail sql.NullString
	if err := row.Scan(&rec.CorrelationID, &started, &finished, &success,
		&rec.OrdersExecuted, &rec.OrdersCanceled, &category, &detail); err != nil {
		return RunRecord{}, err
	}
	var err error
	if rec.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
		return RunRecord{}, fmt.Errorf("run started_at: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339, finished); err != nil {
		return RunRecord{}, fmt.Errorf("run finished_at: %w", err)
	}
	rec.Success = success != 0
	rec.ErrorCategory = category.String
	rec.ErrorDetail = detail.String
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
