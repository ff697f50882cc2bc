package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInvalidInput            = errors.New("invalid input")
	ErrSlotUnavailable         = errors.New("slot is not available")
	ErrDuplicateBookingSameDay = errors.New("patient already has an appointment with this doctor on this day")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrForbidden               = errors.New("action not permitted for this session")
	ErrPatientNotFound         = fmt.Errorf("patient %w", ErrNotFound)
	ErrDoctorNotFound          = fmt.Errorf("doctor %w", ErrNotFound)
	ErrAppointmentNotFound     = fmt.Errorf("appointment %w", ErrNotFound)
	ErrAvailabilityNotFound    = fmt.Errorf("availability window %w", ErrNotFound)
)

// ValidationError reports a malformed or missing parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageError wraps failures of the backing stores (connectivity, unexpected
// constraint violations, lock timeouts). Callers treat it as "system
// unavailable", never as a verdict on the request.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageErr passes business errors through and wraps everything else.
func storageErr(op string, err error) error {
	if err == nil || isBusinessError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrSlotUnavailable,
		ErrDuplicateBookingSameDay,
		ErrInvalidTransition,
		ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
