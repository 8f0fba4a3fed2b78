package domain

import "errors"

// Store failures are classified into exactly one of the first three kinds
// before they leave the store.
var (
	ErrDuplicateReservation = errors.New("reservation already exists")
	ErrTransient            = errors.New("transient store failure")
	ErrFatal                = errors.New("store failure")

	// ErrUserNotFound is always reported together with ErrFatal.
	ErrUserNotFound = errors.New("user not found")
)
