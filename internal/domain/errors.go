package domain

import "errors"

var (
	// ErrAccountNotFound reports an operation referencing an unknown user id.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAmount reports a negative credit amount.
	ErrInvalidAmount = errors.New("invalid credit amount")
)
