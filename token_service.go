package bridge

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the validity window of gateway issued tokens.
	DefaultTokenTTL = time.Hour

	// DefaultExtendedTokenTTL is the longest validity window a token service
	// accepts unless configured otherwise.
	DefaultExtendedTokenTTL = 24 * time.Hour

	// DefaultIssuer is the iss claim of issued tokens.
	DefaultIssuer = "baroness-bridge"
)

// TokenService issues and validates HS256 session tokens.  It holds a
// single key set at construction and is safe for concurrent use.
type TokenService struct {
	signingKey SigningKey
	ttl        time.Duration
	maxTTL     time.Duration
	issuer     string
	logger     Logger
	now        func() time.Time
	parser     *jwt.Parser
}

// TokenServiceOption configures a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenTTL sets the default validity window.
func WithTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.ttl = ttl
		}
	}
}

// WithMaxTokenTTL sets the longest validity window IssueWithTTL accepts.
func WithMaxTokenTTL(ttl time.Duration) TokenServiceOption {
	return func(ts *TokenService) {
		if ttl > 0 {
			ts.maxTTL = ttl
		}
	}
}

// WithIssuer sets the iss claim.  Tokens from another issuer are rejected.
func WithIssuer(issuer string) TokenServiceOption {
	return func(ts *TokenService) {
		ts.issuer = issuer
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l Logger) TokenServiceOption {
	return func(ts *TokenService) {
		ts.logger = l
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if now != nil {
			ts.now = now
		}
	}
}

// NewTokenService creates a new TokenService signing with key.  The key is
// copied so later changes to the caller's slice have no effect.
func NewTokenService(key SigningKey, opts ...TokenServiceOption) (*TokenService, error) {
	if len(key) < SigningKeySize {
		return nil, fmt.Errorf("%w: signing key must be at least %d bytes", ErrConfigurationFatal, SigningKeySize)
	}

	ts := &TokenService{
		signingKey: append(SigningKey(nil), key...),
		ttl:        DefaultTokenTTL,
		maxTTL:     DefaultExtendedTokenTTL,
		issuer:     DefaultIssuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	ts.logger = defaultLogger(ts.logger)

	if ts.ttl > ts.maxTTL {
		ts.maxTTL = ts.ttl
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	ts.parser = jwt.NewParser(parserOptions...)

	return ts, nil
}

// TTL returns the default validity window.
func (ts *TokenService) TTL() time.Duration {
	return ts.ttl
}

// MaxTTL returns the longest validity window the service issues.
func (ts *TokenService) MaxTTL() time.Duration {
	return ts.maxTTL
}

// Issue creates a token for subject valid for the default window.
func (ts *TokenService) Issue(subject string) (string, error) {
	return ts.IssueWithTTL(subject, ts.ttl)
}

// IssueWithTTL creates a token for subject valid for ttl.  A non-positive
// ttl selects the default window.
func (ts *TokenService) IssueWithTTL(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}

	if ttl <= 0 {
		ttl = ts.ttl
	}
	if ttl > ts.maxTTL {
		return "", fmt.Errorf("%w: %s > %s", ErrTTLTooLong, ttl, ts.maxTTL)
	}

	claims := newSessionClaims(ts.issuer, subject, ts.now(), ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(ts.signingKey))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}

	return signed, nil
}

// Validate checks signature, issuer and expiry of token and returns its
// subject.  Every failure is reported as ErrInvalidToken.
func (ts *TokenService) Validate(token string) (string, error) {
	claims, err := ts.ValidateClaims(token)
	if err != nil {
		return "", err
	}
	return claims.Name(), nil
}

// ValidateClaims is like Validate but returns the full claims.
func (ts *TokenService) ValidateClaims(token string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := ts.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(ts.signingKey), nil
	})
	if err != nil {
		ts.logger.Debug("token validation failed", "error", err)
		return nil, ErrInvalidToken
	}

	if !parsed.Valid || claims.Name() == "" {
		ts.logger.Debug("token validation failed", "error", "invalid claims")
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// IsValid reports whether token validates.
func (ts *TokenService) IsValid(token string) bool {
	_, err := ts.Validate(token)
	return err == nil
}
