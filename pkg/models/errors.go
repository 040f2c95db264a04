package models

import "errors"

var (
	// ErrInvalidInput marks malformed caller input (identifiers, payloads).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidFeedback marks a feedback label outside up/down/none.
	ErrInvalidFeedback = errors.New("invalid feedback label")

	// ErrNotFound is returned when a referenced venue or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLostUpdate is returned when a compare-and-swap write lost a race
	// against a concurrent writer. Callers recover by re-reading and retrying.
	ErrLostUpdate = errors.New("concurrent update lost")
)
