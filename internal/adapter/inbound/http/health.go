package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/projectm/lms-session/internal/domain/activity"
	"github.com/projectm/lms-session/internal/domain/session"
)

// HealthResponse is the JSON response from the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`            // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`            // Component check results
	Version string            `json:"version,omitempty"` // Optional version info
}

// StateReporter exposes the idle monitor state.
type StateReporter interface {
	State() activity.State
}

// HealthChecker verifies component health.
type HealthChecker struct {
	store   *session.Store
	monitor StateReporter
	version string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available.
func NewHealthChecker(store *session.Store, monitor StateReporter, version string) *HealthChecker {
	return &HealthChecker{
		store:   store,
		monitor: monitor,
		version: version,
	}
}

// Check performs health checks on all components. Only an unreadable
// store makes the process unhealthy; a logged-out session is a normal state.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	healthy := true

	if h.store != nil {
		creds, err := h.store.Credentials(ctx)
		switch {
		case err != nil:
			checks["store"] = "error: " + err.Error()
			healthy = false
		case creds.Empty():
			checks["store"] = "ok"
			checks["session"] = "logged out"
		default:
			checks["store"] = "ok"
			checks["session"] = "authenticated"
		}
	} else {
		checks["store"] = "not configured"
	}

	if h.monitor != nil {
		checks["idle_monitor"] = h.monitor.State().String()
	} else {
		checks["idle_monitor"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}

	return HealthResponse{
		Status:  status,
		Checks:  checks,
		Version: h.version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			LoggerFromContext(r.Context()).Warn("health check failed", "checks", health.Checks)
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(health)
	})
}
