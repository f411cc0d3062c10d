// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client/session/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the server rejected the bearer credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is the user-facing login failure reason.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnavailable indicates a network-level failure or timeout reaching the API.
	ErrUnavailable = errors.New("service unavailable")

	// ErrNoSession indicates an operation that needs a signed-in session found none.
	ErrNoSession = errors.New("not logged in (run login first)")
)
