package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-reservations/internal/events"
	"github.com/hackgods/clinic-reservations/internal/identity"
)

// Store is the persistence port of the lifecycle manager. Every write goes through WithTx.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// ListActiveBetween returns pending and confirmed reservations with scheduledAt in
	// [from, to). An empty practitioner matches every practitioner.
	ListActiveBetween(ctx context.Context, from, to time.Time, practitioner string) ([]Reservation, error)
	ListByOwner(ctx context.Context, owner identity.Owner, limit, offset int) ([]Reservation, error)

	// SettleElapsed persists completed for up to limit active reservations that have elapsed at now.
	SettleElapsed(ctx context.Context, now time.Time, limit int) (int, error)

	// WithTx runs fn in one all-or-nothing unit. Any error from fn discards every write.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside WithTx.
type Tx interface {
	// LockSlot and LockOwner serialize competing transactions until commit or rollback.
	LockSlot(ctx context.Context, practitioner string, at time.Time) error
	LockOwner(ctx context.Context, owner identity.Owner) error

	// ActiveAt reports the id of the active reservation holding the slot, if any.
	ActiveAt(ctx context.Context, practitioner string, at time.Time) (uuid.UUID, bool, error)
	// ActiveForOwner returns nil when the owner holds no active reservation.
	ActiveForOwner(ctx context.Context, owner identity.Owner) (*Reservation, error)
	SettleOwner(ctx context.Context, owner identity.Owner, now time.Time) error

	GetForUpdate(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Insert(ctx context.Context, r Reservation) error
	// UpdateSchedule moves an active reservation. ErrInvalidTransition if it is no longer active.
	UpdateSchedule(ctx context.Context, id uuid.UUID, at, now time.Time) (*Reservation, error)
	// UpdateStatus applies from -> to. ErrInvalidTransition if the stored status is not from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status, notes string, now time.Time) (*Reservation, error)

	AppendEvent(ctx context.Context, ev events.Event) error
}

// SlotKey is the lock and uniqueness key of a (practitioner, scheduledAt) pair.
func SlotKey(practitioner string, at time.Time) string {
	return "slot|" + practitioner + "|" + at.UTC().Format(time.RFC3339)
}

// OwnerKey is the lock key of an owner. Kinds never collide.
func OwnerKey(owner identity.Owner) string {
	return "owner|" + owner.String()
}
