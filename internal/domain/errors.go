package domain

import "errors"

var (
	// ErrValidation marks caller input that cannot be accepted.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound covers both missing resources and resources owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a name already taken by another owner.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized marks a missing, malformed or expired access token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSignatureInvalid marks a webhook whose signature is missing or wrong.
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrMisconfigured marks a server-side configuration gap.
	ErrMisconfigured = errors.New("misconfigured")
	// ErrRuntime wraps container engine, broker and queue failures.
	ErrRuntime = errors.New("runtime dependency failure")
	// ErrComposeRestart is returned when a restart is requested for a compose stack.
	ErrComposeRestart = errors.New("compose services cannot be restarted in place; trigger a new deployment instead")
)
