package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-reservations/internal/availability"
	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/reservation"
)

// ReservationService is the lifecycle surface the handlers drive.
type ReservationService interface {
	Create(ctx context.Context, owner identity.Owner, scheduledAt time.Time, practitioner, notes string) (*reservation.Reservation, error)
	Reschedule(ctx context.Context, id uuid.UUID, owner identity.Owner, newScheduledAt time.Time) (*reservation.Reservation, error)
	Cancel(ctx context.Context, id uuid.UUID, owner identity.Owner, reason string) (*reservation.Reservation, error)
	Confirm(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	Get(ctx context.Context, id uuid.UUID, owner identity.Owner) (*reservation.Reservation, error)
	ListForOwner(ctx context.Context, owner identity.Owner, limit, offset int) ([]reservation.Reservation, error)
}

type AvailabilityService interface {
	AvailableSlots(ctx context.Context, date time.Time, practitioner string) (*availability.Result, error)
}

// DateParser turns YYYY-MM-DD into a calendar day in the clinic timezone.
type DateParser interface {
	ParseDate(s string) (time.Time, error)
}

type Handler struct {
	reservations ReservationService
	availability AvailabilityService
	dates        DateParser
	validate     *validator.Validate
}

func NewHandler(reservations ReservationService, avail AvailabilityService, dates DateParser) *Handler {
	return &Handler{
		reservations: reservations,
		availability: avail,
		dates:        dates,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter is required")
		return
	}
	date, err := h.dates.ParseDate(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	practitioner := strings.TrimSpace(r.URL.Query().Get("practitioner"))

	res, err := h.availability.AvailableSlots(r.Context(), date, practitioner)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityResponse{
		Date:         date.Format(time.DateOnly),
		Practitioner: practitioner,
		Open:         res.Open,
		Booked:       res.Booked,
	})
}

func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity.OwnerFrom(r.Context())
	if !ok {
		writeServiceError(w, identity.ErrUnauthenticated)
		return
	}

	var req CreateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.reservations.Create(r.Context(), owner, req.ScheduledAt, req.Practitioner, req.Notes)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

// UpdateReservation handles PATCH. Owners may only cancel or move a reservation.
func (h *Handler) UpdateReservation(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity.OwnerFrom(r.Context())
	if !ok {
		writeServiceError(w, identity.ErrUnauthenticated)
		return
	}
	id, ok := reservationID(w, r)
	if !ok {
		return
	}

	var req UpdateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}
	if (req.Status == nil) == (req.ScheduledAt == nil) {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "exactly one of status or scheduled_at is required")
		return
	}

	var (
		res *reservation.Reservation
		err error
	)
	switch {
	case req.ScheduledAt != nil:
		res, err = h.reservations.Reschedule(r.Context(), id, owner, *req.ScheduledAt)
	case reservation.Status(*req.Status) == reservation.StatusCancelled:
		res, err = h.reservations.Cancel(r.Context(), id, owner, req.Reason)
	default:
		// Owners cannot confirm or complete. Existence and ownership are reported first.
		if _, err = h.reservations.Get(r.Context(), id, owner); err == nil {
			err = reservation.ErrInvalidTransition
		}
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity.OwnerFrom(r.Context())
	if !ok {
		writeServiceError(w, identity.ErrUnauthenticated)
		return
	}
	id, ok := reservationID(w, r)
	if !ok {
		return
	}

	res, err := h.reservations.Get(r.Context(), id, owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	owner, ok := identity.OwnerFrom(r.Context())
	if !ok {
		writeServiceError(w, identity.ErrUnauthenticated)
		return
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset", "offset must be an integer")
		return
	}
	limit, offset = reservation.ClampPage(limit, offset)

	list, err := h.reservations.ListForOwner(r.Context(), owner, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := ReservationListResponse{
		Reservations: make([]ReservationResponse, 0, len(list)),
		Limit:        limit,
		Offset:       offset,
	}
	for i := range list {
		resp.Reservations = append(resp.Reservations, toReservationResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ConfirmReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := reservationID(w, r)
	if !ok {
		return
	}

	res, err := h.reservations.Confirm(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid_request_body", verrs[0].Field()+" failed "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return false
	}
	return true
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
