// Package jwtware provides the bearer token check run before protected
// routes.
package jwtware

import (
	"context"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/goliatone/go-router"
)

// DefaultTokenLookup reads the token from the Authorization header.
const DefaultTokenLookup = "header:" + router.HeaderAuthorization

// ErrJWTMissingOrMalformed is returned by extractors when no token could be
// read from the request.
const ErrJWTMissingOrMalformed errors.Error = "missing or malformed JWT"

// UnauthorizedBody is the text body of the default 401 response.
const UnauthorizedBody = "Unauthorized"

// DefaultContextKey is the locals key used when Config.ContextKey is empty.
const DefaultContextKey = "subject"

// TokenValidator validates a raw token and returns its subject.
type TokenValidator interface {
	Validate(tokenString string) (subject string, err error)
}

// ValidationListener is invoked after a token has been validated and before
// the request proceeds.
type ValidationListener func(ctx router.Context, subject string) error

type Config struct {
	ErrorHandler router.ErrorHandler
	// ContextKey is the locals key the subject is stored under.
	ContextKey string
	// TokenLookup is a comma separated list of source:name pairs.  Only the
	// header source is supported.
	TokenLookup string
	AuthScheme  string
	// TokenValidator is required for token validation
	TokenValidator TokenValidator

	// ContextEnricher is an optional function to propagate the subject to
	// the request's standard context.
	ContextEnricher func(c context.Context, subject string) context.Context

	// ValidationListeners are invoked after token validation succeeds.
	ValidationListeners []ValidationListener
}

// New returns the bearer check middleware.
func New(config ...Config) router.MiddlewareFunc {
	cfg := GetDefaultConfig(config...)
	extractors := cfg.getExtractors()

	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			raw, err := ExtractRawTokenFromContext(ctx, extractors)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			subject, err := cfg.TokenValidator.Validate(raw)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			if err = cfg.runValidationListeners(ctx, subject); err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, subject)

			if cfg.ContextEnricher != nil {
				ctx.SetContext(cfg.ContextEnricher(ctx.Context(), subject))
			}

			return next(ctx)
		}
	}
}

// Subject returns the subject stored by the middleware under key.
func Subject(ctx router.Context, key string) (string, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	subject, ok := ctx.Locals(key).(string)
	return subject, ok && subject != ""
}

func GetDefaultConfig(config ...Config) (cfg Config) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c router.Context, _ error) error {
			return c.Status(router.StatusUnauthorized).SendString(UnauthorizedBody)
		}
	}

	if cfg.TokenValidator == nil {
		panic("BRIDGE: JWT middleware configuration: TokenValidator is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = DefaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	return cfg
}

// ExtractRawTokenFromContext runs extractors in order and returns the first
// token found.
func ExtractRawTokenFromContext(ctx router.Context, extractors []JWTExtractor) (string, error) {
	err := error(ErrJWTMissingOrMalformed)
	for _, extractor := range extractors {
		var raw string
		raw, err = extractor(ctx)
		if raw != "" && err == nil {
			return raw, nil
		}
	}

	return "", err
}

func (cfg *Config) getExtractors() []JWTExtractor {
	return GetExtractors(cfg.TokenLookup, cfg.AuthScheme)
}

func (cfg *Config) runValidationListeners(ctx router.Context, subject string) error {
	for _, listener := range cfg.ValidationListeners {
		if listener == nil {
			continue
		}
		if err := listener(ctx, subject); err != nil {
			return err
		}
	}
	return nil
}

// GetExtractors parses tokenLookup.  Sources other than header are ignored.
func GetExtractors(tokenLookup string, authSchemes ...string) []JWTExtractor {
	extractors := make([]JWTExtractor, 0)

	authScheme := "Bearer"
	if len(authSchemes) > 0 {
		authScheme = authSchemes[0]
	}

	// header:Authorization,header:X-Auth-Token
	rootParts := strings.Split(tokenLookup, ",")
	for _, rootPart := range rootParts {
		parts := strings.Split(strings.TrimSpace(rootPart), ":")
		if len(parts) != 2 {
			continue
		}

		for i, el := range parts {
			parts[i] = strings.TrimSpace(el)
		}

		if parts[0] == "header" {
			extractors = append(extractors, jwtFromHeader(parts[1], authScheme))
		}
	}

	return extractors
}

type JWTExtractor func(ctx router.Context) (string, error)

// jwtFromHeader returns a function that extracts token from the request
// header.  The header must be the scheme, a single space and the token.
func jwtFromHeader(header string, authScheme string) JWTExtractor {
	authScheme = strings.TrimSpace(authScheme)
	l := len(authScheme)

	return func(ctx router.Context) (string, error) {
		a := ctx.GetString(header, "")
		if l == 0 {
			return "", ErrJWTMissingOrMalformed
		}
		if len(a) > l+1 && strings.EqualFold(a[:l], authScheme) && a[l] == ' ' {
			if token := strings.TrimSpace(a[l+1:]); token != "" {
				return token, nil
			}
		}
		return "", ErrJWTMissingOrMalformed
	}
}
