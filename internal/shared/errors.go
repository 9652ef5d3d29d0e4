package shared

import "errors"

var (
	// ErrNotFound indicates a referenced role or scope does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness or state precondition was violated.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed input such as an invalid format token.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the current user may not perform the operation.
	ErrForbidden = errors.New("forbidden")
)
