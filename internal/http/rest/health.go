package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/italolelis/biofetch/internal/logctx"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// HealthHandler answers liveness probes with the job store state.
func HealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			logctx.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
			writeJSON(r.Context(), w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Database: "down"})

			return
		}

		writeJSON(r.Context(), w, http.StatusOK, HealthResponse{Status: "ok", Database: "up"})
	}
}
