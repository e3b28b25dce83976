package bridge

import (
	"sync/atomic"
	"time"
)

// TokenHolder is an atomically swappable reference to the current
// TokenService.  It implements TokenIssuer and TokenValidator by delegating
// to whichever service is current at call time.
type TokenHolder struct {
	current atomic.Pointer[TokenService]
}

var (
	_ TokenIssuer    = (*TokenHolder)(nil)
	_ TokenValidator = (*TokenHolder)(nil)
	_ TokenIssuer    = (*TokenService)(nil)
	_ TokenValidator = (*TokenService)(nil)
)

// NewTokenHolder returns a holder initialized with ts.  ts must not be nil.
func NewTokenHolder(ts *TokenService) *TokenHolder {
	h := &TokenHolder{}
	h.current.Store(ts)
	return h
}

// Load returns the current service.
func (h *TokenHolder) Load() *TokenService {
	return h.current.Load()
}

// Swap installs ts and returns the previous service.  All validations
// started after Swap returns use ts.
func (h *TokenHolder) Swap(ts *TokenService) (prev *TokenService) {
	return h.current.Swap(ts)
}

// Issue implements the TokenIssuer interface for *TokenHolder.
func (h *TokenHolder) Issue(subject string) (string, error) {
	return h.Load().Issue(subject)
}

// IssueWithTTL implements the TokenIssuer interface for *TokenHolder.
func (h *TokenHolder) IssueWithTTL(subject string, ttl time.Duration) (string, error) {
	return h.Load().IssueWithTTL(subject, ttl)
}

// Validate implements the TokenValidator interface for *TokenHolder.
func (h *TokenHolder) Validate(token string) (string, error) {
	return h.Load().Validate(token)
}

// ValidateClaims delegates to the current service.
func (h *TokenHolder) ValidateClaims(token string) (*SessionClaims, error) {
	return h.Load().ValidateClaims(token)
}
