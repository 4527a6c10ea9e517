package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hackgods/clinic-reservations/internal/identity"
	"github.com/hackgods/clinic-reservations/internal/reservation"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError is the single mapping from domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	code := reservation.Outcome(err)

	switch {
	case errors.Is(err, identity.ErrSourceUnavailable):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "identity_unavailable", "identity source unavailable, retry shortly")
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, code, "no valid session or token")
	case errors.Is(err, reservation.ErrNotOwner):
		writeError(w, http.StatusForbidden, code, err.Error())
	case errors.Is(err, reservation.ErrNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, reservation.ErrSlotTaken),
		errors.Is(err, reservation.ErrDuplicateActiveReservation),
		errors.Is(err, reservation.ErrInvalidTransition):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, reservation.ErrInvalidSlot):
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case reservation.Retryable(err):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, code, "storage temporarily unavailable, retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
