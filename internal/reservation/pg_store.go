package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
)

// Constraint names created by migrations/0001.
const (
	slotIndex           = "reservations_active_slot_uq"
	primaryOwnerIndex   = "reservations_active_primary_owner_uq"
	secondaryOwnerIndex = "reservations_active_secondary_owner_uq"
)

const pgUniqueViolation = "23505"

const reservationColumns = `id, primary_account_id, secondary_account_id, practitioner, scheduled_at, status, notes, created_at, updated_at`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgDB interface {
	dbtx
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgStore struct {
	db pgDB
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool}
}

func newPgStoreWithDB(db pgDB) *PgStore {
	return &PgStore{db: db}
}

// Helpers

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var primary, secondary *string
	var status string

	err := row.Scan(
		&r.ID,
		&primary,
		&secondary,
		&r.Practitioner,
		&r.ScheduledAt,
		&status,
		&r.Notes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	owner, err := identity.FromColumns(primary, secondary)
	if err != nil {
		return nil, err
	}
	r.Owner = owner
	r.Status = Status(status)
	return &r, nil
}

func scanReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ownerPredicate picks the column for the owner's id space. Callers must never compare
// a primary id against the secondary column or the reverse.
func ownerPredicate(owner identity.Owner, placeholder int) (string, error) {
	switch owner.Kind() {
	case identity.KindPrimary:
		return fmt.Sprintf("primary_account_id = $%d", placeholder), nil
	case identity.KindSecondary:
		return fmt.Sprintf("secondary_account_id = $%d", placeholder), nil
	default:
		return "", identity.ErrUnauthenticated
	}
}

// mapWriteErr turns index violations into the conflict they represent.
func mapWriteErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case slotIndex:
			return ErrSlotTaken
		case primaryOwnerIndex, secondaryOwnerIndex:
			return ErrDuplicateActiveReservation
		}
	}
	return storeErr(op, err)
}

// Store methods

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)

	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("get reservation", err)
	}
	return r, nil
}

func (s *PgStore) ListActiveBetween(ctx context.Context, from, to time.Time, practitioner string) ([]Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE scheduled_at >= $1 AND scheduled_at < $2
		  AND status IN ('pending', 'confirmed')
	`
	args := []any{from, to}
	if practitioner != "" {
		query += ` AND practitioner = $3`
		args = append(args, practitioner)
	}
	query += ` ORDER BY scheduled_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list active reservations", err)
	}
	out, err := scanReservations(rows)
	if err != nil {
		return nil, storeErr("scan active reservations", err)
	}
	return out, nil
}

func (s *PgStore) ListByOwner(ctx context.Context, owner identity.Owner, limit, offset int) ([]Reservation, error) {
	pred, err := ownerPredicate(owner, 1)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE `+pred+`
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, owner.ID(), limit, offset)
	if err != nil {
		return nil, storeErr("list owner reservations", err)
	}
	out, err := scanReservations(rows)
	if err != nil {
		return nil, storeErr("scan owner reservations", err)
	}
	return out, nil
}

func (s *PgStore) SettleElapsed(ctx context.Context, now time.Time, limit int) (int, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE reservations
		SET status = 'completed', updated_at = $1
		WHERE id IN (
			SELECT id FROM reservations
			WHERE status IN ('pending', 'confirmed') AND scheduled_at <= $1
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, now, limit)
	if err != nil {
		return 0, storeErr("settle elapsed", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr("begin", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapWriteErr("commit", err)
	}
	return nil
}

// pgTx implements Tx on a single pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) advisoryLock(ctx context.Context, key string) error {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return storeErr("advisory lock", err)
	}
	return nil
}

func (t *pgTx) LockSlot(ctx context.Context, practitioner string, at time.Time) error {
	return t.advisoryLock(ctx, SlotKey(practitioner, at))
}

func (t *pgTx) LockOwner(ctx context.Context, owner identity.Owner) error {
	return t.advisoryLock(ctx, OwnerKey(owner))
}

func (t *pgTx) ActiveAt(ctx context.Context, practitioner string, at time.Time) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT id FROM reservations
		WHERE practitioner = $1 AND scheduled_at = $2
		  AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, practitioner, at).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, storeErr("check slot", err)
	}
	return id, true, nil
}

func (t *pgTx) ActiveForOwner(ctx context.Context, owner identity.Owner) (*Reservation, error) {
	pred, err := ownerPredicate(owner, 1)
	if err != nil {
		return nil, err
	}
	row := t.tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE `+pred+` AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, owner.ID())

	r, err := scanReservation(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("check owner", err)
	}
	return r, nil
}

func (t *pgTx) SettleOwner(ctx context.Context, owner identity.Owner, now time.Time) error {
	pred, err := ownerPredicate(owner, 1)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, `
		UPDATE reservations
		SET status = 'completed', updated_at = $2
		WHERE `+pred+` AND status IN ('pending', 'confirmed') AND scheduled_at <= $2
	`, owner.ID(), now); err != nil {
		return storeErr("settle owner", err)
	}
	return nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
		FOR UPDATE
	`, id)

	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storeErr("lock reservation", err)
	}
	return r, nil
}

func (t *pgTx) Insert(ctx context.Context, r Reservation) error {
	primary, secondary := r.Owner.Columns()
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, primary, secondary, r.Practitioner, r.ScheduledAt, string(r.Status), r.Notes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return mapWriteErr("insert reservation", err)
	}
	return nil
}

func (t *pgTx) UpdateSchedule(ctx context.Context, id uuid.UUID, at, now time.Time) (*Reservation, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE reservations
		SET scheduled_at = $2, updated_at = $3
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING `+reservationColumns, id, at, now)

	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, mapWriteErr("reschedule reservation", err)
	}
	return r, nil
}

func (t *pgTx) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes string, now time.Time) (*Reservation, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE reservations
		SET status = $3, notes = $4, updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+reservationColumns, id, string(from), string(to), notes, now)

	r, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, mapWriteErr("update reservation status", err)
	}
	return r, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, ev events.Event) error {
	if err := events.Append(ctx, t.tx, ev); err != nil {
		return storeErr("append event", err)
	}
	return nil
}
