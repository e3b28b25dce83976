// Package identity is the account store the bridge exchanges credentials
// against.  It exposes a transactional primitive, bcrypt based password
// construction and verification, and a notification channel for password
// changes.  Store is the bun backed implementation.
package identity
