package api

import (
	"context"
	"net/http"
	"time"

	"github.com/thaian1234/sync-service/internal/store"
)

// HealthResponse reports overall service health plus per-dependency status.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// HealthHandler pings Postgres and Redis with a short deadline. Redis being
// down degrades the response but keeps it 200: the pipeline still works
// through the durable ledger alone.
func HealthHandler(pg *store.PostgresStore, rd *store.RedisStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:     "healthy",
			Version:    "1.0.0",
			Components: map[string]string{"postgres": "up", "redis": "up"},
		}
		status := http.StatusOK

		if err := pg.Pool().Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Components["postgres"] = "down"
			status = http.StatusServiceUnavailable
		}
		if err := rd.Client().Ping(ctx).Err(); err != nil {
			resp.Components["redis"] = "down"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}

		respondJSON(w, status, resp)
	}
}
