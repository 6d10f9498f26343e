package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDuplicateOperation = errors.New("duplicate operation")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrProviderFailure    = errors.New("provider failure")
	ErrUnknownModel       = errors.New("unknown model")
)
