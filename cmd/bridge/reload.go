package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/logutil/slogutil"

	bridge "github.com/ZinovevEzCode/BaronessLaravelBridge"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/config"
	"github.com/ZinovevEzCode/BaronessLaravelBridge/sessions"
)

// reloader applies configuration changes to the running components.
type reloader struct {
	logger      *slog.Logger
	baseLogger  *slog.Logger
	keys        *bridge.KeyManager
	tokens      *bridge.TokenHolder
	invalidator *sessions.Invalidator

	// mu protects secret.
	mu sync.Mutex
	// secret is the encoded key the current token service signs with.
	secret string
}

// onReload is a config.Listener.
func (r *reloader) onReload(prev, cur *config.Config) {
	ctx := context.Background()

	err := r.invalidator.Reconfigure(schemaFromConfig(cur), cur.MessageToPlayer)
	if err != nil {
		r.logger.ErrorContext(ctx, "keeping previous session schema", slogutil.KeyError, err)
	}

	if prev.Debug != cur.Debug {
		r.logger.InfoContext(ctx, "debug setting changes apply after restart", "debug", cur.Debug)
	}

	r.rotateIfChanged(ctx, cur)
}

// rotateIfChanged swaps in a token service for a secret edited in the file.
// Tokens signed with the previous key stop validating.
func (r *reloader) rotateIfChanged(ctx context.Context, cur *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur.JWTSecret == r.secret {
		return
	}

	key, err := r.keys.ResolveKey(ctx, cur.JWTSecret)
	if err != nil {
		r.logger.ErrorContext(ctx, "keeping previous signing key", slogutil.KeyError, err)

		return
	}

	ts, err := newTokenService(key, cur, r.baseLogger)
	if err != nil {
		r.logger.ErrorContext(ctx, "keeping previous signing key", slogutil.KeyError, err)

		return
	}

	r.tokens.Swap(ts)
	r.secret = key.Encode()

	r.logger.InfoContext(ctx, "signing key rotated, outstanding tokens are invalid")
}
