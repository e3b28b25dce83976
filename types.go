package bridge

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the logging surface used across the bridge.  *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

// TokenIssuer issues session tokens for a subject.
type TokenIssuer interface {
	Issue(subject string) (string, error)
	IssueWithTTL(subject string, ttl time.Duration) (string, error)
}

// TokenValidator resolves the subject of a session token.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// SecretStore persists the signing secret.
type SecretStore interface {
	// SwapSecret replaces observed with generated and saves the
	// configuration in one step.  It returns the value that ended up
	// persisted, which differs from generated when another writer already
	// replaced observed.
	SwapSecret(ctx context.Context, observed, generated string) (persisted string, err error)
}

func defaultLogger(l Logger) Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
