package server

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var startupTime = time.Now()

// healthResponse is the /health payload: process vitals, host load, and
// dependency checks for the broker and the journal.
type healthResponse struct {
	Status       string            `json:"status"` // "ok" or "degraded"
	UptimeSec    int64             `json:"uptime_seconds"`
	Goroutines   int               `json:"goroutines"`
	CPUPercent   float64           `json:"cpu_percent"`
	MemUsedPct   float64           `json:"memory_used_percent"`
	Dependencies map[string]string `json:"dependencies"`
}

// handleHealth reports system and dependency health. The broker check is
// a live account call under a short timeout; failures degrade the status
// but the endpoint itself always answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		UptimeSec:    int64(time.Since(startupTime).Seconds()),
		Goroutines:   runtime.NumGoroutine(),
		Dependencies: make(map[string]string),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		resp.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPct = vm.UsedPercent
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.account.GetAccountSnapshot(ctx); err != nil {
		resp.Dependencies["broker"] = err.Error()
		resp.Status = "degraded"
	} else {
		resp.Dependencies["broker"] = "ok"
	}

	if s.journal != nil {
		if err := s.journal.HealthCheck(ctx); err != nil {
			resp.Dependencies["journal"] = err.Error()
			resp.Status = "degraded"
		} else {
			resp.Dependencies["journal"] = "ok"
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}
