package identity

import "github.com/AdguardTeam/golibs/errors"

const (
	// ErrAccountNotFound is returned when no account has the given name.
	ErrAccountNotFound errors.Error = "account not found"

	// ErrAccountExists is returned when creating an account whose name is
	// taken.
	ErrAccountExists errors.Error = "account already exists"

	// ErrEmptyPassword is returned when hashing an empty password.
	ErrEmptyPassword errors.Error = "password must not be empty"

	// ErrEmptyName is returned when creating an account without a name.
	ErrEmptyName errors.Error = "account name must not be empty"
)
