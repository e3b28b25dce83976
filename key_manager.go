package bridge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
)

const (
	// SigningKeySize is the minimum and generated size of a signing key in
	// bytes.
	SigningKeySize = 32

	// minEncodedKeyLen is the shortest base64 form a SigningKeySize key can
	// take (unpadded).  Anything shorter is treated as too short without
	// decoding.
	minEncodedKeyLen = (SigningKeySize*8 + 5) / 6
)

// SigningKey is the symmetric HMAC-SHA-256 secret.
type SigningKey []byte

// String implements fmt.Stringer and never prints the secret.
func (k SigningKey) String() string {
	return fmt.Sprintf("SigningKey(%d bytes)", len(k))
}

// Encode returns the padded standard base64 form stored in configuration.
func (k SigningKey) Encode() string {
	return base64.StdEncoding.EncodeToString(k)
}

// KeyManager resolves the signing key from configuration.
type KeyManager struct {
	store  SecretStore
	logger Logger
	rand   func([]byte) (int, error)
}

// KeyManagerOption configures a KeyManager.
type KeyManagerOption func(*KeyManager)

// WithKeyManagerLogger sets the logger.
func WithKeyManagerLogger(l Logger) KeyManagerOption {
	return func(km *KeyManager) {
		km.logger = l
	}
}

// WithRandomSource replaces crypto/rand, for tests.
func WithRandomSource(r func([]byte) (int, error)) KeyManagerOption {
	return func(km *KeyManager) {
		if r != nil {
			km.rand = r
		}
	}
}

// NewKeyManager returns a KeyManager persisting generated keys to store.
func NewKeyManager(store SecretStore, opts ...KeyManagerOption) *KeyManager {
	km := &KeyManager{
		store: store,
		rand:  rand.Read,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(km)
		}
	}
	km.logger = defaultLogger(km.logger)
	return km
}

// ResolveKey returns the signing key for the configured secret.  An absent,
// too short or weak secret is replaced by a freshly generated key which is
// persisted before returning.  Padded and unpadded standard base64 are
// accepted; a secret that is long enough but neither yields
// ErrConfigurationFatal.
func (km *KeyManager) ResolveKey(ctx context.Context, configured string) (key SigningKey, err error) {
	secret := strings.TrimSpace(configured)

	switch {
	case secret == "":
		km.logger.Warn("jwt secret is not set, generating a new one")
		return km.regenerate(ctx, configured)
	case len(secret) < minEncodedKeyLen:
		km.logger.Warn("jwt secret is too short, generating a new one", "length", len(secret))
		return km.regenerate(ctx, configured)
	}

	key, err = decodeSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding jwt secret: %w", ErrConfigurationFatal, err)
	}

	if len(key) < SigningKeySize {
		km.logger.Warn("jwt secret decodes to a weak key, generating a new one", "bytes", len(key))
		return km.regenerate(ctx, configured)
	}

	return key, nil
}

// Rotate generates and persists a new key regardless of the current one.
// Tokens signed with the previous key stop validating once the caller swaps
// in a TokenService built from the returned key.
func (km *KeyManager) Rotate(ctx context.Context, current string) (SigningKey, error) {
	km.logger.Info("rotating jwt secret")
	return km.regenerate(ctx, current)
}

func (km *KeyManager) regenerate(ctx context.Context, observed string) (key SigningKey, err error) {
	defer func() { err = errors.Annotate(err, "generating signing key: %w") }()

	key, err = km.generate()
	if err != nil {
		return nil, err
	}

	persisted, err := km.store.SwapSecret(ctx, observed, key.Encode())
	if err != nil {
		return nil, fmt.Errorf("persisting secret: %w", err)
	}

	if persisted == key.Encode() {
		km.logger.Info("generated and saved new jwt secret")
		return key, nil
	}

	// Another writer replaced the observed secret first; use theirs so that
	// the in-memory key matches the file.
	adopted, decErr := decodeSecret(persisted)
	if decErr != nil || len(adopted) < SigningKeySize {
		return nil, fmt.Errorf("%w: concurrently persisted secret is unusable", ErrConfigurationFatal)
	}
	km.logger.Info("adopted jwt secret persisted by another writer")

	return adopted, nil
}

// decodeSecret accepts standard base64 with or without padding.
func decodeSecret(secret string) (SigningKey, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err == nil {
		return key, nil
	}

	if !strings.HasSuffix(secret, "=") {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(secret); rawErr == nil {
			return raw, nil
		}
	}

	return nil, err
}

func (km *KeyManager) generate() (SigningKey, error) {
	key := make(SigningKey, SigningKeySize)
	if _, err := km.rand(key); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return key, nil
}
