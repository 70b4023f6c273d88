package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iayos/backend/internal/handlers"
)

// RegisterOpsRoutes adds the unauthenticated operational endpoints.
func RegisterOpsRoutes(mux *http.ServeMux, pool *pgxpool.Pool) {
	mux.Handle("GET /metrics", promhttp.Handler())

	// GET /healthz: the process is up and PostgreSQL answers.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			handlers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
