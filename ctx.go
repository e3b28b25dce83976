package bridge

import (
	"context"

	"github.com/goliatone/go-router"

	"github.com/ZinovevEzCode/BaronessLaravelBridge/middleware/jwtware"
)

var subjectCtxKey = &contextKey{"subject"}

type contextKey struct {
	name string
}

// WithSubject sets the authenticated account name in the given context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectCtxKey, subject)
}

// SubjectFromContext finds the authenticated account name in the context.
func SubjectFromContext(ctx context.Context) (string, bool) {
	raw, ok := ctx.Value(subjectCtxKey).(string)
	return raw, ok && raw != ""
}

// SubjectFromRouter returns the account name the bearer check stored on the
// request.
func SubjectFromRouter(ctx router.Context) (string, bool) {
	if subject, ok := SubjectFromContext(ctx.Context()); ok {
		return subject, true
	}
	return jwtware.Subject(ctx, jwtware.DefaultContextKey)
}
