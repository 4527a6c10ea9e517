package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-reservations/internal/app"
	"github.com/hackgods/clinic-reservations/internal/config"
	"github.com/hackgods/clinic-reservations/internal/logging"
	"github.com/hackgods/clinic-reservations/internal/metrics"
	"github.com/hackgods/clinic-reservations/internal/reservation"
)

// reconcile-worker persists completed for reservations whose slot has passed. Reads already
// derive completed, so this only brings the stored status in line. It emits no events.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("prod", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "reconcile-worker").Logger()
	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Int("batch_size", cfg.ReconcileBatchSize).
		Msg("reconcile worker starting up")

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

	manager := reservation.NewManager(
		backends.Store,
		reservation.NewGuard(backends.Locker(cfg)),
		template,
		logger,
		reservation.WithMetrics(metrics.NewReservationMetrics(nil)),
	)

	// Run once at startup
	runOnce(rootCtx, manager, cfg.ReconcileBatchSize, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping reconcile worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, manager, cfg.ReconcileBatchSize, logger)
		}
	}
}

// runOnce settles batches until one comes back short, so a backlog clears in a single tick.
func runOnce(ctx context.Context, manager *reservation.Manager, batch int, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	total := 0
	for {
		n, err := manager.SettleElapsed(runCtx, batch)
		total += n
		if err != nil {
			logger.Error().Err(err).Int("settled", total).Msg("reconcile run error")
			return
		}
		if n < batch {
			break
		}
	}
	logger.Info().Int("settled", total).Dur("took", time.Since(start)).Msg("reconcile run complete")
}
