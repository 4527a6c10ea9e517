package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/metrics"
)

type RouterConfig struct {
	Reservations   ReservationService
	Availability   AvailabilityService
	Dates          DateParser
	Resolver       *identity.Resolver
	Logger         zerolog.Logger
	AdminJWTSecret string

	// Limiter guards mutating routes. Nil disables rate limiting.
	Limiter *rate.Limiter

	HealthDeps     []Dependency
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler

	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware(cfg.Logger))
	if cfg.HTTPMetrics != nil {
		r.Use(MetricsMiddleware(cfg.HTTPMetrics))
	}

	health := NewHealthHandler(cfg.HealthDeps, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	h := NewHandler(cfg.Reservations, cfg.Availability, cfg.Dates)

	r.Get("/availability", h.GetAvailability)

	r.Route("/reservations", func(r chi.Router) {
		r.Use(RequireOwner(cfg.Resolver))

		r.Get("/", h.ListReservations)
		r.Get("/{id}", h.GetReservation)

		r.Group(func(r chi.Router) {
			r.Use(RateLimitMiddleware(cfg.Limiter))
			r.Post("/", h.CreateReservation)
			r.Patch("/{id}", h.UpdateReservation)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(AdminJWT(cfg.AdminJWTSecret))
		r.Post("/reservations/{id}/confirm", h.ConfirmReservation)
	})

	return r
}
