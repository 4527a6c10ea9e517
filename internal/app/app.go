// Package app opens the backends shared by the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-reservations/internal/config"
	"github.com/hackgods/clinic-reservations/internal/db"
	"github.com/hackgods/clinic-reservations/internal/events"
	redisclient "github.com/hackgods/clinic-reservations/internal/redis"
	"github.com/hackgods/clinic-reservations/internal/reservation"
)

type Backends struct {
	Store  reservation.Store
	Outbox events.Outbox
	Redis  *redis.Client

	// Pool is nil for the memory store driver.
	Pool *pgxpool.Pool
}

// Open connects the reservation store selected by cfg.StoreDriver and Redis.
func Open(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Backends, error) {
	b := &Backends{}

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.Options{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		b.Pool = pool
		b.Store = reservation.NewPgStore(pool)
		b.Outbox = events.NewPgOutbox(pool)
		logger.Info().Msg("connected to postgres")
	case config.StoreMemory:
		mem := reservation.NewMemoryStore()
		b.Store = mem
		b.Outbox = mem
		logger.Warn().Msg("using in-memory reservation store, data is lost on restart")
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		b.Close(logger)
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	b.Redis = rdb
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	return b, nil
}

// Locker returns the distributed slot lock configured for cfg.
func (b *Backends) Locker(cfg config.Config) redisclient.Locker {
	return redisclient.NewRedisSlotLocker(b.Redis, cfg.LockTTL, cfg.LockWait)
}

func (b *Backends) Close(logger zerolog.Logger) {
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
