package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/polystrat/polystrat/internal/engine"
)

// runHolder serializes triggered runs and keeps the last result. The
// engine is not safe for concurrent runs, so a second trigger while one
// is in flight is refused.
type runHolder struct {
	mu      sync.Mutex
	running bool
	last    *engine.TradeRunResult
}

func (h *runHolder) tryAcquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return false
	}
	h.running = true
	return true
}

func (h *runHolder) release(result *engine.TradeRunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = false
	h.last = result
}

func (h *runHolder) lastResult() *engine.TradeRunResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// handleRun triggers a trading run synchronously and returns its result
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CorrelationID string `json:"correlation_id"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // empty body means fresh ID
	}

	if !s.runs.tryAcquire() {
		s.writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}

	result := s.runner.Run(r.Context(), body.CorrelationID)
	s.runs.release(result)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

// handleLastRun returns the most recent run result. Falls back to the
// journal's last run record when the process has not run yet.
func (s *Server) handleLastRun(w http.ResponseWriter, r *http.Request) {
	if last := s.runs.lastResult(); last != nil {
		s.writeJSON(w, http.StatusOK, last)
		return
	}
	if s.journal != nil {
		rec, err := s.journal.LastRun(r.Context())
		if err == nil && rec != nil {
			s.writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "no runs recorded")
}

// handleStrategyPnL returns per-strategy P&L marked at current prices
func (s *Server) handleStrategyPnL(w http.ResponseWriter, r *http.Request) {
	prices := make(map[string]decimal.Decimal)
	for _, pos := range s.tracker.OpenPositions() {
		if _, ok := prices[pos.Symbol]; ok {
			continue
		}
		price, err := s.market.GetCurrentPrice(r.Context(), pos.Symbol)
		if err != nil || !price.IsPositive() {
			s.log.Warn().Str("symbol", pos.Symbol).Msg("No price for P&L mark, unrealized omitted")
			continue
		}
		prices[pos.Symbol] = price
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"strategies": s.tracker.AllStrategyPnL(prices),
	})
}

// handleDailyLimit reports circuit-breaker headroom
func (s *Server) handleDailyLimit(w http.ResponseWriter, r *http.Request) {
	check := s.limiter.CheckLimit(decimal.Zero)
	s.writeJSON(w, http.StatusOK, check)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
