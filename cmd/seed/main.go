package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-reservations/internal/app"
	"github.com/hackgods/clinic-reservations/internal/config"
	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/logging"
	"github.com/hackgods/clinic-reservations/internal/reservation"
	"github.com/hackgods/clinic-reservations/internal/schedule"
)

var visitReasons = []string{
	"Annual check-up",
	"Follow-up consultation",
	"Vaccination",
	"Blood test results",
	"Skin examination",
	"Prescription renewal",
	"Back pain",
	"Allergy review",
}

// seed issues demo credentials for both identity systems and books tomorrow's slots for
// some of them through the same lifecycle path the API uses.
func main() {
	primaryCount := flag.Int("primary", 20, "primary accounts to issue sessions for")
	secondaryCount := flag.Int("secondary", 10, "social-login accounts to issue tokens for")
	practitionerCount := flag.Int("practitioners", 4, "practitioners to spread bookings over")
	bookRatio := flag.Float64("book-ratio", 0.6, "share of accounts that get a reservation")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("prod", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	template, err := cfg.ScheduleTemplate()
	if err != nil {
		logger.Fatal().Err(err).Msg("slot template")
	}

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("backend connection error")
	}
	defer backends.Close(logger)

	sessions := identity.NewRedisSessions(backends.Redis, cfg.SessionCookieName, cfg.SessionKeyPrefix)
	owners, err := seedPrimary(ctx, sessions, *primaryCount, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed primary sessions")
	}

	if cfg.SocialTokenSecret != "" {
		secondary, err := seedSecondary(identity.NewSocialTokens(cfg.SocialTokenSecret, cfg.SocialTokenIssuer), *secondaryCount, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("seed social tokens")
		}
		owners = append(owners, secondary...)
	} else {
		logger.Warn().Msg("SOCIAL_TOKEN_SECRET not set, skipping secondary accounts")
	}

	manager := reservation.NewManager(backends.Store, reservation.NewGuard(backends.Locker(cfg)), template, logger)
	booked, err := seedReservations(ctx, manager, template, owners, practitioners(*practitionerCount), *bookRatio, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed reservations")
	}

	logger.Info().Int("owners", len(owners)).Int("reservations", booked).Msg("seed complete")
}

func practitioners(n int) []string {
	if n <= 0 {
		n = 1
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, "dr-"+strings.ToLower(gofakeit.LastName()))
	}
	return out
}

func seedPrimary(ctx context.Context, sessions *identity.RedisSessions, count int, logger zerolog.Logger) ([]identity.Owner, error) {
	logger.Info().Int("count", count).Msg("issuing primary sessions")

	owners := make([]identity.Owner, 0, count)
	for i := 0; i < count; i++ {
		accountID := uuid.NewString()
		token, err := sessions.Issue(ctx, accountID, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		owners = append(owners, identity.Primary(accountID))

		// Credentials go to stdout so they can be piped into curl or the simulator.
		fmt.Fprintf(os.Stdout, "primary\t%s\t%s\t%s=%s\n", gofakeit.Name(), gofakeit.Email(), sessions.Cookie(token).Name, token)
	}
	return owners, nil
}

func seedSecondary(tokens *identity.SocialTokens, count int, logger zerolog.Logger) ([]identity.Owner, error) {
	logger.Info().Int("count", count).Msg("issuing social-login tokens")

	owners := make([]identity.Owner, 0, count)
	for i := 0; i < count; i++ {
		subject := "social-" + uuid.NewString()
		token, err := tokens.Issue(subject, 24*time.Hour)
		if err != nil {
			return nil, err
		}
		owners = append(owners, identity.Secondary(subject))
		fmt.Fprintf(os.Stdout, "secondary\t%s\t%s\tBearer %s\n", gofakeit.Name(), gofakeit.Email(), token)
	}
	return owners, nil
}

func seedReservations(
	ctx context.Context,
	manager *reservation.Manager,
	template *schedule.Template,
	owners []identity.Owner,
	practitioners []string,
	ratio float64,
	logger zerolog.Logger,
) (int, error) {
	tomorrow := time.Now().In(template.Location()).AddDate(0, 0, 1)
	date, err := template.ParseDate(tomorrow.Format(time.DateOnly))
	if err != nil {
		return 0, err
	}
	slots := template.Slots()

	booked, taken := 0, 0
	for _, owner := range owners {
		if gofakeit.Float64Range(0, 1) > ratio {
			continue
		}
		at := template.At(date, slots[gofakeit.Number(0, len(slots)-1)])
		practitioner := practitioners[gofakeit.Number(0, len(practitioners)-1)]
		notes := visitReasons[gofakeit.Number(0, len(visitReasons)-1)]

		_, err := manager.Create(ctx, owner, at, practitioner, notes)
		switch {
		case err == nil:
			booked++
		case errors.Is(err, reservation.ErrSlotTaken), errors.Is(err, reservation.ErrDuplicateActiveReservation):
			taken++
		default:
			return booked, fmt.Errorf("create reservation for %s: %w", owner, err)
		}
	}

	logger.Info().
		Str("date", date.Format(time.DateOnly)).
		Int("booked", booked).
		Int("collisions", taken).
		Msg("reservations seeded")
	return booked, nil
}
