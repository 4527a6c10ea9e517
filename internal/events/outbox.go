package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-reservations/internal/identity"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type querier interface {
	execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Append writes ev with whatever executor the caller holds, normally the transaction
// that changed the reservation.
func Append(ctx context.Context, db execer, ev Event) error {
	query := `
		INSERT INTO reservation_events (id, reservation_id, type, owner_kind, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := db.Exec(ctx, query,
		ev.ID, ev.ReservationID, string(ev.Type), string(ev.OwnerKind), ev.Status, ev.ScheduledAt, ev.OccurredAt,
	); err != nil {
		return fmt.Errorf("events: insert outbox: %w", err)
	}
	return nil
}

// PgOutbox reads and acknowledges reservation_events rows.
type PgOutbox struct {
	db querier
}

func NewPgOutbox(pool *pgxpool.Pool) *PgOutbox {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &PgOutbox{db: pool}
}

func newPgOutboxWithDB(db querier) *PgOutbox {
	return &PgOutbox{db: db}
}

func (o *PgOutbox) FetchPending(ctx context.Context, limit int) ([]Event, error) {
	query := `
		SELECT id, reservation_id, type, owner_kind, status, scheduled_at, created_at
		FROM reservation_events
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := o.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var typ, kind string
		if err := rows.Scan(&ev.ID, &ev.ReservationID, &typ, &kind, &ev.Status, &ev.ScheduledAt, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		ev.Type = Type(typ)
		ev.OwnerKind = identity.Kind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (o *PgOutbox) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE reservation_events
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := o.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (o *PgOutbox) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	query := `
		UPDATE reservation_events
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := o.db.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}
