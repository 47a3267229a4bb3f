package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientCredit = errors.New("insufficient credit")
	ErrInvalidTransition  = errors.New("invalid stage transition")
	ErrProviderFailure    = errors.New("provider failure")
	ErrConfiguration      = errors.New("configuration error")
	ErrNoTaskAvailable    = errors.New("no task available")
)
