package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound  = errors.New("not_found")
	ErrForbidden = errors.New("forbidden")
	// ErrConflict covers uniqueness violations and conditional updates whose preconditions no longer hold.
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	// ErrImmutable indicates an attempt to change a record that is locked in a settlement
	ErrImmutable = errors.New("immutable")
)
