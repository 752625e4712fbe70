package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thaian1234/sync-service/internal/alert"
	"github.com/thaian1234/sync-service/internal/cache"
	"github.com/thaian1234/sync-service/internal/engine"
	"github.com/thaian1234/sync-service/internal/scheduler"
	"github.com/thaian1234/sync-service/internal/store"
	ws "github.com/thaian1234/sync-service/internal/websocket"
)

// NewRouter creates and configures the HTTP router for the admin surface.
func NewRouter(
	pgStore *store.PostgresStore,
	redisStore *store.RedisStore,
	idempotency *cache.IdempotencyCache,
	sched *scheduler.RetryScheduler,
	dispatcher *alert.Dispatcher,
	breakers *engine.BreakerRegistry,
	hub *ws.Hub,
) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS for dashboard
	r.Use(corsMiddleware)

	// Handlers
	dlqHandler := NewDlqHandler(pgStore, sched, idempotency)
	alertHandler := NewAlertHandler(dispatcher)
	breakerHandler := NewBreakerHandler(breakers)

	// WebSocket endpoint
	r.Get("/ws", hub.HandleWebSocket)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler(pgStore, redisStore))

		r.Route("/dlq", func(r chi.Router) {
			r.Get("/", dlqHandler.List)
			r.Get("/stats", dlqHandler.Stats)
			r.Post("/bulk-retry", dlqHandler.BulkRetry)
			r.Post("/bulk-archive", dlqHandler.BulkArchive)
			r.Delete("/archived", dlqHandler.DeleteArchived)
			r.Get("/{id}", dlqHandler.Get)
			r.Post("/{id}/retry", dlqHandler.Retry)
			r.Post("/{id}/reset", dlqHandler.Reset)
			r.Post("/{id}/archive", dlqHandler.Archive)
			r.Delete("/{id}", dlqHandler.Delete)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/check", alertHandler.Check)
			r.Post("/test", alertHandler.Test)
		})

		r.Route("/breakers", func(r chi.Router) {
			r.Get("/", breakerHandler.List)
			r.Post("/{name}/reset", breakerHandler.Reset)
		})
	})

	return r
}

// corsMiddleware adds CORS headers for dashboard development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
