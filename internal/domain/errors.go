package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnknownMarket      = errors.New("unknown market")
	ErrCredentialMismatch = errors.New("signing key does not match account address")
	ErrVenueRejected      = errors.New("venue rejected request")
	ErrVenueUnavailable   = errors.New("venue unavailable")
	ErrInvalidLegs        = errors.New("invalid leg composition")
	ErrPositionClosed     = errors.New("position already closed")
	ErrLockHeld           = errors.New("lock already held")
)
