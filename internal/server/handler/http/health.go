package http

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the unauthenticated health endpoints.
type HealthHandler struct {
	Version string
	Store   Pinger
	Now     func() time.Time
}

func (h *HealthHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"version":   h.Version,
		"timestamp": h.now().UTC(),
	})
}

// Storage handles GET /api/health/storage. It answers 503 when the
// backend cannot be reached within two seconds.
func (h *HealthHandler) Storage(w http.ResponseWriter, r *http.Request) {
	status, state := http.StatusOK, "Connected"
	if h.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Store.Ping(ctx); err != nil {
			status, state = http.StatusServiceUnavailable, "Failed"
		}
	}
	writeJSON(w, status, map[string]any{
		"database":  state,
		"timestamp": h.now().UTC(),
	})
}
