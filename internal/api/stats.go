package api

import (
	"log/slog"
	"net/http"
	"runtime"
	"sync"

	"synthv/pkg/artifact"
	"synthv/pkg/tracker"
)

// StatsHandler reports provider counters, session and artifact totals and process diagnostics.
type StatsHandler struct {
	tracker  *tracker.Tracker
	sessions *Sessions
	registry *artifact.Registry

	mu     sync.Mutex
	maxMem uint64
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(t *tracker.Tracker, sessions *Sessions, reg *artifact.Registry) *StatsHandler {
	return &StatsHandler{tracker: t, sessions: sessions, registry: reg}
}

type ProviderStatsDTO struct {
	APISuccess    int64 `json:"api_success"`
	APIZeroResult int64 `json:"api_zero"`
	APIFailures   int64 `json:"api_errors"`
	PollAttempts  int64 `json:"poll_attempts"`
	BytesReceived int64 `json:"bytes_received"`
	SuccessRate   int64 `json:"success_rate"`
}

type Diagnostics struct {
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
}

type TrackingStats struct {
	Sessions          int   `json:"sessions"`
	LiveArtifacts     int   `json:"live_artifacts"`
	ReleasedArtifacts int64 `json:"released_artifacts"`
}

type StatsResponse struct {
	Diagnostics Diagnostics                 `json:"diagnostics"`
	Tracking    TrackingStats               `json:"tracking"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
}

// HandleReset clears the per-provider counters. Session and artifact counts are live values and stay.
func (h *StatsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.tracker.Reset()
	slog.Info("Stats: provider counters reset")
	w.WriteHeader(http.StatusNoContent)
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tracker.Snapshot()

	resp := StatsResponse{
		Diagnostics: h.gatherDiagnostics(),
		Tracking: TrackingStats{
			Sessions:          h.sessions.Len(),
			LiveArtifacts:     h.registry.Live(),
			ReleasedArtifacts: h.registry.Released(),
		},
		Providers: make(map[string]ProviderStatsDTO, len(snapshot)),
	}

	for provider, stats := range snapshot {
		total := stats.APISuccess + stats.APIFailures + stats.APIZeroResult
		rate := int64(0)
		if total > 0 {
			rate = (stats.APISuccess * 100) / total
		}
		resp.Providers[provider] = ProviderStatsDTO{
			APISuccess:    stats.APISuccess,
			APIZeroResult: stats.APIZeroResult,
			APIFailures:   stats.APIFailures,
			PollAttempts:  stats.PollAttempts,
			BytesReceived: stats.BytesReceived,
			SuccessRate:   rate,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *StatsHandler) gatherDiagnostics() Diagnostics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.Sys > h.maxMem {
		h.maxMem = ms.Sys
	}
	peak := h.maxMem
	h.mu.Unlock()

	return Diagnostics{
		MemoryMB:    bToMb(ms.Sys),
		MemoryMaxMB: bToMb(peak),
		Goroutines:  runtime.NumGoroutine(),
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
