package types

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned across a component boundary wraps exactly
// one of these so transports can map it with errors.Is.
var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrAccessDenied      = errors.New("access denied")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoDoctorAvailable = errors.New("no available doctor found for this specialization")
	ErrStoreFailure      = errors.New("store failure")
	ErrRateLimited       = errors.New("rate limit exceeded")
)

// ARCHITECTURAL DISCOVERY: Specific errors wrap a kind so handlers can report
// the precise reason while mapping only on the kind
var (
	ErrConsultationNotFound = fmt.Errorf("consultation %w", ErrNotFound)
	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)

	ErrEmptyMessage          = fmt.Errorf("%w: message text is required", ErrInvalidInput)
	ErrMessageTooLarge       = fmt.Errorf("%w: message text exceeds 64KB limit", ErrInvalidInput)
	ErrInvalidStatus         = fmt.Errorf("%w: invalid status", ErrInvalidInput)
	ErrInvalidTransition     = fmt.Errorf("%w: illegal status transition", ErrInvalidInput)
	ErrStatusConflict        = fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
	ErrSpecializationMissing = fmt.Errorf("%w: specialization is required", ErrInvalidInput)
	ErrMissingConsultationID = fmt.Errorf("%w: consultationId is required", ErrInvalidInput)
	ErrUnknownEvent          = fmt.Errorf("%w: unknown event", ErrInvalidInput)
	ErrInvalidPayload        = fmt.Errorf("%w: invalid event payload", ErrInvalidInput)

	ErrMissingCredential = fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	ErrInvalidCredential = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
)

// StoreError wraps a driver error as a store failure for the given operation.
func StoreError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}

// IsRetryable reports whether the caller may retry the failed operation.
// Only store failures are transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreFailure)
}
