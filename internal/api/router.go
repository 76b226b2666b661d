package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type RouterConfig struct {
	Services Services
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Services

	r.Route("/api", func(r chi.Router) {
		r.Post("/tokens", bookTokenHandler(svc))
		r.Get("/tokens/{tokenID}", getTokenHandler(svc))
		r.Post("/tokens/{tokenID}/cancel", cancelTokenHandler(svc))
		r.Post("/tokens/{tokenID}/no-show", noShowTokenHandler(svc))
		r.Patch("/tokens/{tokenID}/status", updateTokenStatusHandler(svc))

		r.Get("/queue/{doctorID}", getQueueHandler(svc))
		r.Post("/queue/{doctorID}/next", callNextHandler(svc))

		r.Post("/slots/initialize", initializeSlotsHandler(svc))
		r.Get("/slots/{doctorID}", listSlotsHandler(svc))
		r.Get("/availability/{doctorID}", availabilityHandler(svc))

		r.Post("/doctors", createDoctorHandler(svc))
		r.Get("/doctors", listDoctorsHandler(svc))
		r.Get("/doctors/{doctorID}", getDoctorHandler(svc))
	})

	return r
}
