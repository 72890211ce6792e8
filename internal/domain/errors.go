package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidSnapshot = errors.New("invalid market snapshot")
	ErrInvalidProfile  = errors.New("invalid scan profile")
	ErrInvalidConfig   = errors.New("invalid engine configuration")
	ErrLockHeld        = errors.New("lock already held")
	ErrUnavailable     = errors.New("unavailable")
)
