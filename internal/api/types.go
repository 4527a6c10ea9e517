package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-reservations/internal/reservation"
	"github.com/hackgods/clinic-reservations/internal/schedule"
)

type CreateReservationRequest struct {
	ScheduledAt  time.Time `json:"scheduled_at" validate:"required"`
	Practitioner string    `json:"practitioner" validate:"max=100"`
	Notes        string    `json:"notes" validate:"max=2000"`
}

// UpdateReservationRequest carries exactly one of Status or ScheduledAt.
type UpdateReservationRequest struct {
	Status      *string    `json:"status" validate:"omitempty,oneof=pending confirmed cancelled completed"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Reason      string     `json:"reason" validate:"max=500"`
}

type ReservationResponse struct {
	ID           uuid.UUID `json:"id"`
	OwnerKind    string    `json:"owner_kind"`
	Practitioner string    `json:"practitioner"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Status       string    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ReservationListResponse struct {
	Reservations []ReservationResponse `json:"reservations"`
	Limit        int                   `json:"limit"`
	Offset       int                   `json:"offset"`
}

type AvailabilityResponse struct {
	Date         string               `json:"date"`
	Practitioner string               `json:"practitioner,omitempty"`
	Open         []schedule.TimeOfDay `json:"open"`
	Booked       []schedule.TimeOfDay `json:"booked"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toReservationResponse(r *reservation.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:           r.ID,
		OwnerKind:    string(r.Owner.Kind()),
		Practitioner: r.Practitioner,
		ScheduledAt:  r.ScheduledAt,
		Status:       string(r.Status),
		Notes:        r.Notes,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}
