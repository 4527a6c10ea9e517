package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-reservations/internal/api"
	"github.com/hackgods/clinic-reservations/internal/app"
	"github.com/hackgods/clinic-reservations/internal/availability"
	"github.com/hackgods/clinic-reservations/internal/config"
	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/logging"
	"github.com/hackgods/clinic-reservations/internal/metrics"
	"github.com/hackgods/clinic-reservations/internal/reservation"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("prod", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "api-server").Logger()
	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("timezone", cfg.ClinicTimezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	template, err := cfg.ScheduleTemplate()
	if err != nil {
		logger.Fatal().Err(err).Msg("slot template")
	}

	backends, err := app.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend connection error")
	}
	defer backends.Close(logger)

	var social identity.Source
	if cfg.SocialTokenSecret != "" {
		social = identity.NewSocialTokens(cfg.SocialTokenSecret, cfg.SocialTokenIssuer)
	} else {
		logger.Warn().Msg("SOCIAL_TOKEN_SECRET not set, secondary identities are disabled")
	}
	resolver := identity.NewResolver(
		identity.NewRedisSessions(backends.Redis, cfg.SessionCookieName, cfg.SessionKeyPrefix),
		social,
	)

	reservationMetrics := metrics.NewReservationMetrics(nil)
	outboxMetrics := metrics.NewOutboxMetrics(nil)
	httpMetrics := metrics.NewHTTPMetrics(nil)

	manager := reservation.NewManager(
		backends.Store,
		reservation.NewGuard(backends.Locker(cfg)),
		template,
		logger,
		reservation.WithMetrics(reservationMetrics),
	)
	calculator := availability.NewCalculator(template, backends.Store)

	if cfg.OutboxDeliveryEnabled {
		deliverer := events.NewDeliverer(backends.Outbox, events.NewRedisPublisher(backends.Redis, cfg.EventsChannel), logger).
			WithBatchSize(cfg.OutboxBatchSize).
			WithInterval(cfg.OutboxInterval).
			WithMetrics(outboxMetrics)
		go deliverer.Start(rootCtx)
		logger.Info().Str("channel", cfg.EventsChannel).Msg("outbox delivery started")
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	health := []api.Dependency{
		{Name: "redis", Critical: true, Pinger: api.PingFunc(func(ctx context.Context) error {
			return backends.Redis.Ping(ctx).Err()
		})},
	}
	if backends.Pool != nil {
		health = append(health, api.Dependency{Name: "postgres", Critical: true, Pinger: backends.Pool})
	}

	router := api.NewRouter(api.RouterConfig{
		Reservations:   manager,
		Availability:   calculator,
		Dates:          template,
		Resolver:       resolver,
		Logger:         logger,
		AdminJWTSecret: cfg.AdminJWTSecret,
		Limiter:        limiter,
		HealthDeps:     health,
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.Handler(),
		Env:            cfg.Env,
		Version:        version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
			stop()
			backends.Close(logger)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("api-server stopped")
}
