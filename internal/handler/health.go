package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is anything that can report whether it is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	name      string
	machineID string
	checks    map[string]Pinger
	now       func() time.Time
	logger    *slog.Logger
	timeout   time.Duration
}

// NewHealthHandler creates a HealthHandler. name and machineID are reported
// by /api/ping; checks are pinged by /api/health.
func NewHealthHandler(name, machineID string, checks map[string]Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		name:      name,
		machineID: machineID,
		checks:    checks,
		now:       time.Now,
		logger:    logger,
		timeout:   2 * time.Second,
	}
}

// HandlePing reports that the service is up.
//
// HTTP: GET /api/ping
func (h *HealthHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "pong", map[string]string{
		"plugin":    h.name,
		"machineId": h.machineID,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// HandleHealth pings every dependency; any failure makes the answer 503.
//
// HTTP: GET /api/health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for name, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			h.logger.Warn("health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, Envelope{
			Status:  statusError,
			Error:   "unhealthy",
			Message: "one or more dependencies are unavailable",
			Data:    results,
		})
		return
	}
	writeData(w, http.StatusOK, "healthy", results)
}
