// Package bridge connects an external identity backend with a web
// application.
//
// Tokens:
//   - KeyManager resolves the HMAC signing key from configuration, generating
//     and persisting a fresh one when the configured secret is absent or too
//     short. It must run after the configuration has been fully loaded.
//   - TokenService signs and validates HS256 session tokens. A service owns a
//     single key and never mutates it; TokenHolder swaps whole services when
//     the key is rotated, which invalidates every outstanding token.
//
// Exchange:
//   - Exchanger performs the login-or-register operation against the identity
//     backend and returns an ExchangeResponse. Password hashing and
//     verification run outside backend transactions.
//   - Server registers the gateway routes on a go-router fiber adapter. The
//     exchange endpoint is public; every other route under /api runs the
//     bearer middleware from package middleware/jwtware first.
//
// Session invalidation on password change lives in package sessions.
package bridge
