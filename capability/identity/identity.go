// Package identity is the identity capability: issuing and verifying
// bearer tokens for guest-to-guest and guest-to-external authentication.
package identity

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/capability"
)

// Name is the capability's stable import name.
const Name = "identity"

// Issuer is the backend-facing contract.
type Issuer interface {
	// Issue mints a token for a subject, valid for ttl.
	Issue(ctx context.Context, subject string, ttl time.Duration) (string, error)

	// Verify validates a token and returns its subject. Invalid or
	// expired tokens return ok=false, not an error.
	Verify(ctx context.Context, token string) (subject string, ok bool, err error)

	Close(ctx context.Context) error
}

// Capability adapts an Issuer into the sandbox import namespace.
type Capability struct {
	issuer Issuer
	logger zerolog.Logger
}

// New wraps a connected issuer.
func New(issuer Issuer, logger zerolog.Logger) *Capability {
	return &Capability{issuer: issuer, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.issuer.Close(ctx) }

// Register installs the identity operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.issue).Export("issue").
		NewFunctionBuilder().WithFunc(c.verify).Export("verify").
		Instantiate(ctx)
	return err
}

// issue(subject_ptr, subject_len, ttl_ms) -> packed token, None on failure.
func (c *Capability) issue(ctx context.Context, mod wazapi.Module,
	sptr, slen uint32, ttlMs uint64) uint64 {

	subject, err := capability.ReadString(mod, sptr, slen)
	if err != nil {
		return capability.None
	}
	token, err := c.issuer.Issue(ctx, subject, time.Duration(ttlMs)*time.Millisecond)
	if err != nil {
		c.logger.Warn().Str("subject", subject).Err(err).Msg("issue failed")
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, []byte(token))
	if err != nil {
		return capability.None
	}
	return packed
}

// verify(token_ptr, token_len) -> packed subject, None when invalid.
func (c *Capability) verify(ctx context.Context, mod wazapi.Module, tptr, tlen uint32) uint64 {
	token, err := capability.ReadString(mod, tptr, tlen)
	if err != nil {
		return capability.None
	}
	subject, ok, err := c.issuer.Verify(ctx, token)
	if err != nil {
		c.logger.Warn().Err(err).Msg("verify failed")
		return capability.None
	}
	if !ok {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, []byte(subject))
	if err != nil {
		return capability.None
	}
	return packed
}

// JWT returns a factory for the HS256 issuer. The signing key is required
// via OMNIA_IDENTITY_KEY; a missing key fails startup rather than issuing
// unverifiable tokens.
func JWT() capability.Factory {
	return func(ctx context.Context, logger zerolog.Logger) (capability.Capability, error) {
		key := os.Getenv("OMNIA_IDENTITY_KEY")
		if key == "" {
			return nil, fmt.Errorf("OMNIA_IDENTITY_KEY is required for the jwt identity backend")
		}
		return New(&jwtIssuer{key: []byte(key)}, logger), nil
	}
}

type jwtIssuer struct {
	key []byte
}

func (j *jwtIssuer) Issue(ctx context.Context, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "omnia",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.key)
}

func (j *jwtIssuer) Verify(ctx context.Context, token string) (string, bool, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return j.key, nil
	}, jwt.WithIssuer("omnia"), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", false, nil
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", false, nil
	}
	return claims.Subject, true, nil
}

func (j *jwtIssuer) Close(ctx context.Context) error { return nil }
