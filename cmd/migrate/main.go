package main

import (
	"database/sql"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-reservations/internal/logging"
	"github.com/hackgods/clinic-reservations/migrations"
)

// Usage: migrate [up | down | force <version>]
func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL")).With().Str("service", "migrate").Logger()

	dsn := strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("ping db")
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logger.Fatal().Err(err).Msg("db driver")
	}

	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Fatal().Err(err).Msg("source driver")
	}

	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Fatal().Err(err).Msg("create migrator")
	}
	defer func() { _, _ = m.Close() }()

	cmd := "up"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "force":
		if len(os.Args) < 3 {
			logger.Fatal().Msg("force requires a version")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid version")
		}
		if err := m.Force(version); err != nil {
			logger.Fatal().Err(err).Msg("force version")
		}
		logger.Info().Int("version", version).Msg("forced version")
		return
	case "down":
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("migrate down")
		}
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			logger.Fatal().Err(err).Msg("migrate up")
		}
	default:
		logger.Fatal().Str("command", cmd).Msg("unknown command")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal().Err(err).Msg("read version")
	}
	logger.Info().Str("command", cmd).Uint("version", version).Bool("dirty", dirty).Msg("migrations complete")
}
