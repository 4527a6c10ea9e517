package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-reservations/internal/identity"
)

type Type string

const (
	TypeCreated     Type = "reservation.created"
	TypeRescheduled Type = "reservation.rescheduled"
	TypeCancelled   Type = "reservation.cancelled"
	TypeConfirmed   Type = "reservation.confirmed"
)

// Event is what the notification side consumes. It never carries the owner id.
type Event struct {
	ID            uuid.UUID     `json:"id"`
	Type          Type          `json:"type"`
	ReservationID uuid.UUID     `json:"reservationId"`
	OwnerKind     identity.Kind `json:"ownerKind"`
	Status        string        `json:"status"`
	ScheduledAt   time.Time     `json:"scheduledAt"`
	OccurredAt    time.Time     `json:"occurredAt"`
}

// Outbox is the durable queue the Deliverer drains.
type Outbox interface {
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

// Publisher hands an event to the downstream messaging system.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
