package reservation

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-reservations/internal/identity"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// AnyPractitioner is the search-time wildcard. It is never stored.
const AnyPractitioner = "any"

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active statuses occupy a slot and count toward the per-owner limit.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// transitions lists every explicit edge. completed is reached through EffectiveStatus
// and SettleElapsed, never by a caller.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusCompleted},
	StatusConfirmed: {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsAnyPractitioner reports whether p is the wildcard or unset.
func IsAnyPractitioner(p string) bool {
	p = strings.TrimSpace(p)
	return p == "" || strings.EqualFold(p, AnyPractitioner)
}

type Reservation struct {
	ID           uuid.UUID
	Owner        identity.Owner
	Practitioner string
	ScheduledAt  time.Time
	Status       Status
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Elapsed is the single rule for when an appointment time has passed.
func Elapsed(scheduledAt, now time.Time) bool {
	return !scheduledAt.After(now)
}

// EffectiveStatus is the status every reader must report: an active reservation whose
// time has passed is completed whether or not that has been persisted yet.
func EffectiveStatus(r Reservation, now time.Time) Status {
	if r.Status.Active() && Elapsed(r.ScheduledAt, now) {
		return StatusCompleted
	}
	return r.Status
}

// Effective returns a copy of r carrying its effective status.
func (r Reservation) Effective(now time.Time) Reservation {
	r.Status = EffectiveStatus(r, now)
	return r
}
