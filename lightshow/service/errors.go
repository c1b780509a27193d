package service

import "errors"

var (
	// ErrSessionNotFound is returned when a referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUnauthorized is returned when a connection other than the host
	// attempts a host-only operation.
	ErrUnauthorized = errors.New("not the session host")

	// ErrInvalidInput is returned for empty or oversized session names and
	// unknown screen colors.
	ErrInvalidInput = errors.New("invalid input")
)
