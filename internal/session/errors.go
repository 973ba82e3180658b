package session

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/tenantcal/internal/backend"
)

// Sentinel errors. Use errors.Is to check.
var (
	// ErrAuthenticationFailed: the backend rejected the login, or the login
	// could not complete. Recoverable; the user may retry.
	ErrAuthenticationFailed = errors.New("session: authentication failed")

	// ErrInvalidTransition: the operation is not valid from the current state
	// (e.g. login while already logged in).
	ErrInvalidTransition = errors.New("session: invalid state transition")

	// ErrNotLoggedIn: an operation requiring LoggedIn ran without a session.
	ErrNotLoggedIn = errors.New("session: not logged in")

	// ErrSessionExpired: the session was found past its expiry by the local
	// clock and has been ended. Matches backend.ErrSessionExpired.
	ErrSessionExpired = fmt.Errorf("session: past expiry: %w", backend.ErrSessionExpired)
)

// AuthError is returned by Login. Reason is the backend-provided reason
// when there is one. Err is the underlying cause and may be nil.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", ErrAuthenticationFailed, e.Reason)
}

func (e *AuthError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAuthenticationFailed}
	}

	return []error{ErrAuthenticationFailed, e.Err}
}
