package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jwebster45206/consequence-engine/internal/orchestrator"
)

// Pinger is any backing service that can report liveness
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsProvider exposes rolling generation metrics
type StatsProvider interface {
	Metrics() orchestrator.RollingMetrics
}

type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Service    string         `json:"service"`
	Components map[string]any `json:"components"`
}

type HealthHandler struct {
	snapshots Pinger
	sessions  Pinger
	stats     StatsProvider
	logger    *slog.Logger
}

// NewHealthHandler builds the /health handler. sessions and stats may be nil.
func NewHealthHandler(snapshots, sessions Pinger, stats StatsProvider, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		snapshots: snapshots,
		sessions:  sessions,
		stats:     stats,
		logger:    logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	h.logger.Debug("Health check requested",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := make(map[string]any)
	overallStatus := "healthy"

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Health check failed", "component", name, "error", err)
			components[name] = "unhealthy"
			overallStatus = "degraded"
			return
		}
		components[name] = "healthy"
	}
	check("snapshot_store", h.snapshots)
	check("sessions", h.sessions)

	if h.stats != nil {
		m := h.stats.Metrics()
		components["generation"] = map[string]any{
			"generated":        m.Generated,
			"ai_failure_rate":  m.FailureRate,
			"mean_latency_ms":  m.MeanLatency.Milliseconds(),
			"cache_size":       m.CacheSize,
			"active_scenarios": m.ActiveScenarios,
		}
	}

	response := HealthResponse{
		Status:     overallStatus,
		Timestamp:  time.Now(),
		Service:    "consequence-engine",
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Error encoding health response",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path)
	}
}
