// Package health serves the liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"minerva/pkg/logger"
)

// Checker is anything with a pingable backend. Satisfied by the postgres,
// redis, and clickhouse adapters.
type Checker interface {
	Health(ctx context.Context) error
}

// Handler provides health check endpoints.
type Handler struct {
	log         *logger.Logger
	checks      map[string]Checker
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a health handler over the named backend checkers. Nil checkers
// are skipped so optional backends can be passed unconditionally.
func New(log *logger.Logger, checks map[string]Checker, serviceName, version string) *Handler {
	filtered := make(map[string]Checker, len(checks))
	for name, c := range checks {
		if c != nil {
			filtered[name] = c
		}
	}
	return &Handler{
		log:         log,
		checks:      filtered,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// Status is the overall health report.
type Status struct {
	Status    string                     `json:"status"` // "healthy" or "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth is the health of a single backend.
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK while the process is running.
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// HandleReadiness pings every backend and returns 503 if any is down.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// HandleHealth is the detailed health report, always 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, _ := h.run(ctx)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handler) run(ctx context.Context) (Status, bool) {
	checks := make(map[string]ComponentHealth, len(h.checks))
	healthy := true

	for name, checker := range h.checks {
		started := time.Now()
		err := checker.Health(ctx)
		component := ComponentHealth{
			Status:       "healthy",
			ResponseTime: time.Since(started).String(),
		}
		if err != nil {
			component.Status = "unhealthy"
			component.Error = err.Error()
			healthy = false
			h.log.Warnw("health check failed", "backend", name, "error", err)
		}
		checks[name] = component
	}

	overall := "healthy"
	if !healthy {
		overall = "unhealthy"
	}
	return Status{
		Status:    overall,
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}, healthy
}
