package executor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/domain"
)

// LimitCheck is the result of a circuit-breaker query
type LimitCheck struct {
	Proposed      decimal.Decimal `json:"proposed"`
	Cumulative    decimal.Decimal `json:"cumulative"`
	Limit         decimal.Decimal `json:"limit"`
	Headroom      decimal.Decimal `json:"headroom"`
	WouldExceedBy decimal.Decimal `json:"would_exceed_by"`
	IsWithinLimit bool            `json:"is_within_limit"`
}

// DailyTradeLimit is the process-wide circuit breaker on cumulative
// absolute trade value per UTC day. All operations are O(1) under a
// single mutex; the date key rolls over lazily on first use after
// midnight UTC.
type DailyTradeLimit struct {
	mu         sync.Mutex
	dateKey    string // YYYY-MM-DD UTC
	cumulative decimal.Decimal
	limit      decimal.Decimal
	now        func() time.Time
	log        zerolog.Logger
}

// NewDailyTradeLimit creates a circuit breaker with the given daily cap
func NewDailyTradeLimit(limit decimal.Decimal, log zerolog.Logger) *DailyTradeLimit {
	return &DailyTradeLimit{
		limit:      limit,
		cumulative: decimal.Zero,
		now:        time.Now,
		log:        log.With().Str("service", "daily_trade_limit").Logger(),
	}
}

// CheckLimit reports whether a proposed trade value fits today's headroom.
// It does not record anything.
func (l *DailyTradeLimit) CheckLimit(proposed decimal.Decimal) LimitCheck {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()

	headroom := l.limit.Sub(l.cumulative)
	wouldExceedBy := decimal.Max(decimal.Zero, l.cumulative.Add(proposed).Sub(l.limit))
	return LimitCheck{
		Proposed:      proposed,
		Cumulative:    l.cumulative,
		Limit:         l.limit,
		Headroom:      headroom,
		WouldExceedBy: wouldExceedBy,
		IsWithinLimit: proposed.LessThanOrEqual(headroom),
	}
}

// AssertWithinLimit returns a DailyTradeLimitExceededError when the
// proposed value does not fit. Called before every order submission.
func (l *DailyTradeLimit) AssertWithinLimit(proposed decimal.Decimal) error {
	check := l.CheckLimit(proposed)
	if check.IsWithinLimit {
		return nil
	}
	l.log.Error().
		Str("proposed", check.Proposed.String()).
		Str("cumulative", check.Cumulative.String()).
		Str("limit", check.Limit.String()).
		Str("headroom", check.Headroom.String()).
		Msg("Daily trade limit would be exceeded")
	return &domain.DailyTradeLimitExceededError{
		Proposed:   check.Proposed,
		Cumulative: check.Cumulative,
		Limit:      check.Limit,
		Headroom:   check.Headroom,
	}
}

// RecordTrade adds a filled trade's absolute value to today's cumulative
func (l *DailyTradeLimit) RecordTrade(filledValue decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	l.cumulative = l.cumulative.Add(filledValue.Abs())
}

// Cumulative returns today's cumulative traded value
func (l *DailyTradeLimit) Cumulative() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.cumulative
}

// rolloverLocked resets the accumulator when the UTC date changed.
// Caller must hold the mutex.
func (l *DailyTradeLimit) rolloverLocked() {
	today := l.now().UTC().Format("2006-01-02")
	if l.dateKey != today {
		if l.dateKey != "" {
			l.log.Info().
				Str("previous_date", l.dateKey).
				Str("previous_cumulative", l.cumulative.String()).
				Msg("UTC date rollover, resetting daily trade limit")
		}
		l.dateKey = today
		l.cumulative = decimal.Zero
	}
}
