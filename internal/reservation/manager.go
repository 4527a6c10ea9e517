package reservation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/metrics"
	"github.com/hackgods/clinic-reservations/internal/schedule"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Manager owns the reservation lifecycle. Reservations are only created and mutated here.
type Manager struct {
	store    Store
	guard    *Guard
	template *schedule.Template
	logger   zerolog.Logger
	metrics  *metrics.ReservationMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithMetrics(rm *metrics.ReservationMetrics) Option {
	return func(m *Manager) { m.metrics = rm }
}

func NewManager(store Store, guard *Guard, template *schedule.Template, logger zerolog.Logger, opts ...Option) *Manager {
	if guard == nil {
		guard = NewGuard(nil)
	}
	m := &Manager{
		store:    store,
		guard:    guard,
		template: template,
		logger:   logger.With().Str("component", "reservation").Logger(),
		tracer:   otel.Tracer("github.com/hackgods/clinic-reservations/internal/reservation"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create books a future on-grid slot for owner with status pending.
func (m *Manager) Create(ctx context.Context, owner identity.Owner, scheduledAt time.Time, practitioner, notes string) (*Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Create")
	defer span.End()
	started := time.Now()

	practitioner = strings.TrimSpace(practitioner)
	span.SetAttributes(
		attribute.String("reservation.practitioner", practitioner),
		attribute.String("reservation.owner_kind", string(owner.Kind())),
	)

	created, err := m.create(ctx, owner, scheduledAt, practitioner, notes)
	m.finish(span, "create", started, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("reservation_id", created.ID.String()).
		Str("owner_kind", string(created.Owner.Kind())).
		Str("practitioner", created.Practitioner).
		Time("scheduled_at", created.ScheduledAt).
		Msg("reservation created")
	return created, nil
}

func (m *Manager) create(ctx context.Context, owner identity.Owner, at time.Time, practitioner, notes string) (*Reservation, error) {
	if owner.IsZero() {
		return nil, identity.ErrUnauthenticated
	}
	if IsAnyPractitioner(practitioner) {
		return nil, invalidSlot("a concrete practitioner is required")
	}

	now := m.now()
	if err := m.validateSlot(at, now); err != nil {
		return nil, err
	}

	r := Reservation{
		ID:           uuid.New(),
		Owner:        owner,
		Practitioner: practitioner,
		ScheduledAt:  at.UTC(),
		Status:       StatusPending,
		Notes:        strings.TrimSpace(notes),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}

	err := m.guard.Serialize(ctx, practitioner, r.ScheduledAt, func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := tx.LockOwner(ctx, owner); err != nil {
				return err
			}
			// elapsed reservations no longer count as active for this owner
			if err := tx.SettleOwner(ctx, owner, now); err != nil {
				return err
			}
			existing, err := tx.ActiveForOwner(ctx, owner)
			if err != nil {
				return err
			}
			if existing != nil {
				return ErrDuplicateActiveReservation
			}

			if err := m.guard.Check(ctx, tx, practitioner, r.ScheduledAt, uuid.Nil); err != nil {
				return err
			}
			if err := tx.Insert(ctx, r); err != nil {
				return err
			}
			return tx.AppendEvent(ctx, newEvent(events.TypeCreated, r, now))
		})
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Reschedule moves an active reservation to a new slot in place. The reservation's own
// current slot never counts against it.
func (m *Manager) Reschedule(ctx context.Context, id uuid.UUID, owner identity.Owner, newScheduledAt time.Time) (*Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Reschedule")
	defer span.End()
	started := time.Now()
	span.SetAttributes(attribute.String("reservation.id", id.String()))

	updated, err := m.reschedule(ctx, id, owner, newScheduledAt)
	m.finish(span, "reschedule", started, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("reservation_id", updated.ID.String()).
		Str("owner_kind", string(updated.Owner.Kind())).
		Str("practitioner", updated.Practitioner).
		Time("scheduled_at", updated.ScheduledAt).
		Msg("reservation rescheduled")
	return updated, nil
}

func (m *Manager) reschedule(ctx context.Context, id uuid.UUID, owner identity.Owner, at time.Time) (*Reservation, error) {
	if owner.IsZero() {
		return nil, identity.ErrUnauthenticated
	}

	now := m.now()
	current, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(*current, owner, now); err != nil {
		return nil, err
	}
	if err := m.validateSlot(at, now); err != nil {
		return nil, err
	}
	at = at.UTC()

	var updated *Reservation
	err = m.guard.Serialize(ctx, current.Practitioner, at, func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			r, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if err := m.authorize(*r, owner, now); err != nil {
				return err
			}
			if err := m.guard.Check(ctx, tx, r.Practitioner, at, r.ID); err != nil {
				return err
			}
			updated, err = tx.UpdateSchedule(ctx, r.ID, at, now.UTC())
			if err != nil {
				return err
			}
			return tx.AppendEvent(ctx, newEvent(events.TypeRescheduled, *updated, now))
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel moves an active reservation to cancelled. Cancelling twice is ErrInvalidTransition.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID, owner identity.Owner, reason string) (*Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Cancel")
	defer span.End()
	started := time.Now()
	span.SetAttributes(attribute.String("reservation.id", id.String()))

	cancelled, err := m.cancel(ctx, id, owner, reason)
	m.finish(span, "cancel", started, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("reservation_id", cancelled.ID.String()).
		Str("owner_kind", string(cancelled.Owner.Kind())).
		Str("practitioner", cancelled.Practitioner).
		Time("scheduled_at", cancelled.ScheduledAt).
		Msg("reservation cancelled")
	return cancelled, nil
}

func (m *Manager) cancel(ctx context.Context, id uuid.UUID, owner identity.Owner, reason string) (*Reservation, error) {
	if owner.IsZero() {
		return nil, identity.ErrUnauthenticated
	}

	now := m.now()
	var updated *Reservation
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !r.Owner.Equal(owner) {
			return ErrNotOwner
		}
		if !CanTransition(EffectiveStatus(*r, now), StatusCancelled) {
			return ErrInvalidTransition
		}
		updated, err = tx.UpdateStatus(ctx, r.ID, r.Status, StatusCancelled, withReason(r.Notes, reason), now.UTC())
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(events.TypeCancelled, *updated, now))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Confirm is the staff action pending -> confirmed.
func (m *Manager) Confirm(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.Confirm")
	defer span.End()
	started := time.Now()
	span.SetAttributes(attribute.String("reservation.id", id.String()))

	now := m.now()
	var updated *Reservation
	err := m.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if EffectiveStatus(*r, now) != StatusPending {
			return ErrInvalidTransition
		}
		updated, err = tx.UpdateStatus(ctx, r.ID, StatusPending, StatusConfirmed, r.Notes, now.UTC())
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(events.TypeConfirmed, *updated, now))
	})
	m.finish(span, "confirm", started, err)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("reservation_id", updated.ID.String()).
		Str("practitioner", updated.Practitioner).
		Time("scheduled_at", updated.ScheduledAt).
		Msg("reservation confirmed")
	return updated, nil
}

// Get returns the caller's reservation with its effective status.
func (m *Manager) Get(ctx context.Context, id uuid.UUID, owner identity.Owner) (*Reservation, error) {
	if owner.IsZero() {
		return nil, identity.ErrUnauthenticated
	}
	r, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Owner.Equal(owner) {
		return nil, ErrNotOwner
	}
	eff := r.Effective(m.now())
	return &eff, nil
}

// ListForOwner pages through the owner's reservations, newest first.
func (m *Manager) ListForOwner(ctx context.Context, owner identity.Owner, limit, offset int) ([]Reservation, error) {
	if owner.IsZero() {
		return nil, identity.ErrUnauthenticated
	}
	limit, offset = ClampPage(limit, offset)

	list, err := m.store.ListByOwner(ctx, owner, limit, offset)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for i := range list {
		list[i] = list[i].Effective(now)
	}
	return list, nil
}

// ClampPage applies the list defaults: limit 20 when unset, at most 100, offset never negative.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// SettleElapsed persists the completed status that EffectiveStatus already reports.
func (m *Manager) SettleElapsed(ctx context.Context, limit int) (int, error) {
	ctx, span := m.tracer.Start(ctx, "reservation.SettleElapsed")
	defer span.End()
	started := time.Now()

	n, err := m.store.SettleElapsed(ctx, m.now().UTC(), limit)
	m.finish(span, "settle", started, err)
	if err != nil {
		return 0, err
	}
	m.metrics.Settled(n)
	if n > 0 {
		m.logger.Info().Int("count", n).Msg("elapsed reservations settled")
	}
	return n, nil
}

func (m *Manager) validateSlot(at, now time.Time) error {
	if !m.template.OnGrid(at) {
		return invalidSlot("%s is not on the %s slot grid", at.Format(time.RFC3339), m.template.Spacing())
	}
	if Elapsed(at, now) {
		return invalidSlot("%s is in the past", at.Format(time.RFC3339))
	}
	return nil
}

// authorize checks ownership and that r can still be moved.
func (m *Manager) authorize(r Reservation, owner identity.Owner, now time.Time) error {
	if !r.Owner.Equal(owner) {
		return ErrNotOwner
	}
	if !EffectiveStatus(r, now).Active() {
		return ErrInvalidTransition
	}
	return nil
}

func (m *Manager) finish(span trace.Span, op string, started time.Time, err error) {
	outcome := Outcome(err)
	m.metrics.Observe(op, outcome, time.Since(started))
	if err == nil {
		return
	}

	span.RecordError(err)
	if Retryable(err) {
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error().Err(err).Str("operation", op).Msg("reservation store failure")
		return
	}
	m.logger.Debug().Err(err).Str("operation", op).Str("outcome", outcome).Msg("reservation request rejected")
}

// Outcome labels err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, identity.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrInvalidSlot):
		return "invalid_slot"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrDuplicateActiveReservation):
		return "duplicate_active_reservation"
	case errors.Is(err, ErrNotOwner):
		return "not_owner"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "error"
	}
}

func withReason(notes, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return notes
	}
	line := "Cancellation reason: " + reason
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

func newEvent(typ events.Type, r Reservation, now time.Time) events.Event {
	return events.Event{
		ID:            uuid.New(),
		Type:          typ,
		ReservationID: r.ID,
		OwnerKind:     r.Owner.Kind(),
		Status:        string(r.Status),
		ScheduledAt:   r.ScheduledAt,
		OccurredAt:    now.UTC(),
	}
}
