package claim

import "errors"

// Rejection taxonomy for the single-session machinery. Handlers match these
// with errors.Is and map them to user-facing responses; anything else coming
// out of the service is an internal store failure.
var (
	// ErrInvalidCredentials means the username is unknown or the credential
	// does not match. Terminal for the attempt.
	ErrInvalidCredentials = errors.New("claim: invalid credentials")

	// ErrClaimLost means a concurrent login claimed the account between the
	// eviction and the conditional claim. The caller should retry the login.
	ErrClaimLost = errors.New("claim: lost session claim to concurrent login")

	// ErrUnauthenticated means the request carried no authenticated
	// principal, or the principal's account no longer exists.
	ErrUnauthenticated = errors.New("claim: not authenticated")

	// ErrSessionInvalidated means the account has no active claim; the
	// caller's session was revoked.
	ErrSessionInvalidated = errors.New("claim: session claim revoked")

	// ErrSupersededElsewhere means another login evicted the caller's
	// session; the account's claim now names a newer session.
	ErrSupersededElsewhere = errors.New("claim: session superseded by newer login")

	// ErrSessionExpired means the claimed session's store record is gone.
	// The claim has been cleared; a fresh login will succeed.
	ErrSessionExpired = errors.New("claim: session expired")
)

// Reason returns a stable snake_case tag for a rejection, used in redirect
// query strings, audit events, and metrics labels.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrClaimLost):
		return "claim_lost"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrSessionInvalidated):
		return "session_invalidated"
	case errors.Is(err, ErrSupersededElsewhere):
		return "superseded_elsewhere"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	default:
		return "internal"
	}
}

// ShouldTerminate reports whether a guard rejection must also terminate the
// caller's local session (cookie and store record). True for the rejections
// where the caller still holds session state that is no longer valid.
func ShouldTerminate(err error) bool {
	return errors.Is(err, ErrSessionInvalidated) ||
		errors.Is(err, ErrSupersededElsewhere) ||
		errors.Is(err, ErrSessionExpired)
}
