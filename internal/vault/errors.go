package vault

import "errors"

// ErrRateLimited is returned before the password check when the actor has
// exhausted decrypt attempts for the window. No audit row is written: the
// attempt was never allowed.
var ErrRateLimited = errors.New("too many decrypt attempts, try again later")

// ErrAuthentication is returned on password mismatch. Always audited.
var ErrAuthentication = errors.New("invalid password")

// ErrNotFound is returned when a session does not exist or belongs to a
// different actor; the two are not distinguished.
var ErrNotFound = errors.New("session not found or access denied")

// ValidationError reports malformed input rejected before any side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}
