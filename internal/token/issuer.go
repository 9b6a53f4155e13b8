package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatehouse-app/gatehouse/internal/identity"
)

const magicTokenBytes = 32

// StampSource supplies the live stamp and role for an identity.
// Implemented by identity.Registry.
type StampSource interface {
	CurrentStamp(ctx context.Context, identityID string) (identity.StampInfo, error)
}

// MagicStore persists one-time bootstrap tokens. Implemented by the magic
// token repository.
type MagicStore interface {
	Insert(ctx context.Context, token, identityID string, expiresAt time.Time) error
}

type sessionClaims struct {
	Role  string `json:"role"`
	Stamp string `json:"stamp"`
	jwt.RegisteredClaims
}

// Issuer mints signed session tokens and one-time magic tokens.
type Issuer struct {
	registry StampSource
	magic    MagicStore
	secret   []byte
	issuer   string
	policy   TTLPolicy
	magicTTL time.Duration
	now      func() time.Time
}

// IssuerConfig collects Issuer dependencies.
type IssuerConfig struct {
	Registry StampSource
	Magic    MagicStore
	Secret   []byte
	Issuer   string
	Policy   TTLPolicy
	MagicTTL time.Duration
	Now      func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Issuer{
		registry: cfg.Registry,
		magic:    cfg.Magic,
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		policy:   cfg.Policy,
		magicTTL: cfg.MagicTTL,
		now:      now,
	}
}

// Issue mints a signed session token for the identity, embedding the role
// and security stamp current at issuance. The expiry tier is computed from
// that captured role.
func (i *Issuer) Issue(ctx context.Context, identityID string) (string, Claims, error) {
	info, err := i.registry.CurrentStamp(ctx, identityID)
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: issue: %w", err)
	}

	now := i.now()
	claims := Claims{
		IdentityID: identityID,
		Role:       info.Role,
		Stamp:      info.Stamp,
		IssuedAt:   now,
		ExpiresAt:  now.Add(i.policy.For(info.Role)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		Role:  string(claims.Role),
		Stamp: claims.Stamp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   identityID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	}).SignedString(i.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, claims, nil
}

// TTLFor exposes the tier lifetime for a role so the gateway can compute
// rolling cookie expiries without re-minting.
func (i *Issuer) TTLFor(role identity.Role) time.Duration {
	return i.policy.For(role)
}

// IssueMagic creates a single-use bootstrap token for the identity and
// persists it in the token store. Only the raw value is returned; it is
// unsigned because possession of the unguessable value plus single-use
// redemption is the security property.
func (i *Issuer) IssueMagic(ctx context.Context, identityID string) (string, error) {
	if _, err := i.registry.CurrentStamp(ctx, identityID); err != nil {
		return "", fmt.Errorf("token: magic issue: %w", err)
	}

	buf := make([]byte, magicTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: magic entropy: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	expiresAt := i.now().Add(i.magicTTL)
	if err := i.magic.Insert(ctx, raw, identityID, expiresAt); err != nil {
		return "", fmt.Errorf("token: magic insert: %w", err)
	}
	return raw, nil
}
