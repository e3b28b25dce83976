package bridge

import (
	"github.com/AdguardTeam/golibs/errors"
)

const (
	// ErrClientInput is returned when a request lacks required fields.  No
	// backend call is made for such requests.
	ErrClientInput errors.Error = "login and password are required"

	// ErrUnauthorized is returned by the bearer check for a missing or
	// malformed Authorization header.
	ErrUnauthorized errors.Error = "unauthorized"

	// ErrInvalidToken is the single error reported for any structural,
	// signature or expiry failure of a session token.
	ErrInvalidToken errors.Error = "invalid token"

	// ErrCredentialMismatch is reported when the supplied password does not
	// match the stored credential.
	ErrCredentialMismatch errors.Error = "invalid password"

	// ErrBackendUnavailable wraps unexpected identity backend failures.
	ErrBackendUnavailable errors.Error = "identity backend unavailable"

	// ErrConfigurationFatal is returned when the configured signing secret
	// cannot be used and startup must be aborted.
	ErrConfigurationFatal errors.Error = "fatal configuration error"

	// ErrTTLTooLong is returned when a token validity window exceeds the
	// maximum allowed by the token service.
	ErrTTLTooLong errors.Error = "token validity window exceeds maximum"

	// ErrEmptySubject is returned when issuing a token without a subject.
	ErrEmptySubject errors.Error = "token subject must not be empty"
)

// IsUnauthorized reports whether err should be answered with 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken)
}
