package reservation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSlot                = errors.New("invalid slot")
	ErrSlotTaken                  = errors.New("slot already taken")
	ErrDuplicateActiveReservation = errors.New("owner already holds an active reservation")
	ErrNotOwner                   = errors.New("reservation belongs to another owner")
	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrNotFound                   = errors.New("reservation not found")
	ErrStoreUnavailable           = errors.New("reservation store unavailable")
)

// StoreError wraps a transient persistence failure. It matches ErrStoreUnavailable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func invalidSlot(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSlot, fmt.Sprintf(format, args...))
}
