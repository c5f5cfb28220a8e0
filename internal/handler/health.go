package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthCheck probes a dependency. A nil check is always healthy.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports 200 when check passes within two seconds and 503 otherwise.
// The probe error is logged, not returned.
func HealthHandler(check HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", "error", err)
				RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
				return
			}
		}
		RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}
